package slack

import (
	"strings"
	"testing"
	"time"
)

// stateWith builds a submitted view state for the feedback modal.
func stateWith(category, message, email string, anonymous bool) *ViewState {
	values := map[string]map[string]ViewStateValue{
		BlockCategory: {ActionCategorySelect: {Type: "static_select"}},
		BlockMessage:  {ActionMessageInput: {Type: "plain_text_input", Value: message}},
		BlockEmail:    {ActionEmailInput: {Type: "plain_text_input", Value: email}},
		BlockAnonymous: {ActionAnonymousCheckbox: {
			Type: "checkboxes",
		}},
	}
	if category != "" {
		values[BlockCategory][ActionCategorySelect] = ViewStateValue{
			Type:           "static_select",
			SelectedOption: &Option{Text: PlainText(CategoryLabel(category)), Value: category},
		}
	}
	if anonymous {
		values[BlockAnonymous][ActionAnonymousCheckbox] = ViewStateValue{
			Type:            "checkboxes",
			SelectedOptions: []Option{{Text: PlainText("Submit anonymously"), Value: "anonymous"}},
		}
	}
	return &ViewState{Values: values}
}

func submittedView(state *ViewState, meta PrivateMetadata) *SubmittedView {
	return &SubmittedView{
		ID:              "V001",
		CallbackID:      CallbackFeedbackSubmit,
		PrivateMetadata: meta.Encode(),
		State:           state,
	}
}

func TestValidateSubmission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		state     *ViewState
		wantBlock string
	}{
		{"valid", stateWith("bug", "the login page crashes on submit", "", false), ""},
		{"valid with email", stateWith("suggestion", "please add dark mode to the dashboard", "dana@example.com", false), ""},
		{"no category", stateWith("", "the login page crashes on submit", "", false), BlockCategory},
		{"unknown category", stateWith("rant", "the login page crashes on submit", "", false), BlockCategory},
		{"empty message", stateWith("bug", "", "", false), BlockMessage},
		{"message too short", stateWith("bug", "broken", "", false), BlockMessage},
		{"whitespace does not pad", stateWith("bug", "   hi    \t\n   ", "", false), BlockMessage},
		{"message too long", stateWith("bug", strings.Repeat("a", MaxMessageLength+1), "", false), BlockMessage},
		{"bad email", stateWith("bug", "the login page crashes on submit", "not-an-email", false), BlockEmail},
		{"email missing tld", stateWith("bug", "the login page crashes on submit", "dana@localhost", false), BlockEmail},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fieldErrors := ValidateSubmission(tt.state)
			if tt.wantBlock == "" {
				if len(fieldErrors) != 0 {
					t.Errorf("unexpected errors: %v", fieldErrors)
				}
				return
			}
			if _, ok := fieldErrors[tt.wantBlock]; !ok {
				t.Errorf("no error keyed by %q, got %v", tt.wantBlock, fieldErrors)
			}
		})
	}
}

func TestValidateSubmissionMessageAtBounds(t *testing.T) {
	t.Parallel()

	min := stateWith("bug", strings.Repeat("a", MinMessageLength), "", false)
	if fieldErrors := ValidateSubmission(min); len(fieldErrors) != 0 {
		t.Errorf("message at minimum length rejected: %v", fieldErrors)
	}
	max := stateWith("bug", strings.Repeat("a", MaxMessageLength), "", false)
	if fieldErrors := ValidateSubmission(max); len(fieldErrors) != 0 {
		t.Errorf("message at maximum length rejected: %v", fieldErrors)
	}
}

func TestValidateSubmissionCountsCharacters(t *testing.T) {
	t.Parallel()

	// Five characters, fifteen bytes. Byte counting would wrongly pass this.
	short := stateWith("bug", strings.Repeat("あ", 5), "", false)
	if _, ok := ValidateSubmission(short)[BlockMessage]; !ok {
		t.Error("five-character multibyte message passed the minimum")
	}

	// MaxMessageLength characters but three bytes each; must still pass.
	long := stateWith("bug", strings.Repeat("あ", MaxMessageLength), "", false)
	if fieldErrors := ValidateSubmission(long); len(fieldErrors) != 0 {
		t.Errorf("multibyte message at the character maximum rejected: %v", fieldErrors)
	}

	over := stateWith("bug", strings.Repeat("あ", MaxMessageLength+1), "", false)
	if _, ok := ValidateSubmission(over)[BlockMessage]; !ok {
		t.Error("message one character over the maximum passed")
	}
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"trims", "  hello  ", "hello"},
		{"strips control chars", "he\x00llo\x07 wor\x1bld", "hello world"},
		{"keeps newlines", "line one\nline two", "line one\nline two"},
		{"keeps tabs", "a\tb", "a\tb"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeText(tt.in); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHandleSubmissionValidationErrors(t *testing.T) {
	t.Parallel()

	payload := &InteractionPayload{
		Type: "view_submission",
		User: InteractionUser{ID: "U123", Username: "dana"},
		View: submittedView(stateWith("bug", "short", "", false), PrivateMetadata{ChannelID: "C456"}),
	}

	resp, submission, err := HandleSubmission(payload, time.Now())
	if err != nil {
		t.Fatalf("HandleSubmission: %v", err)
	}
	if submission != nil {
		t.Error("invalid submission was accepted")
	}
	if resp == nil || resp.ResponseAction != "errors" {
		t.Fatalf("response = %+v, want response_action=errors", resp)
	}
	if _, ok := resp.Errors[BlockMessage]; !ok {
		t.Errorf("errors not keyed by message block: %v", resp.Errors)
	}
}

func TestHandleSubmissionAccepts(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	meta := PrivateMetadata{ChannelID: "C456", UserID: "U123", TeamID: "T789", CommandText: "dashboard"}
	payload := &InteractionPayload{
		Type: "view_submission",
		User: InteractionUser{ID: "U123", Username: "dana"},
		View: submittedView(stateWith("suggestion", "please add dark mode to the dashboard", "dana@example.com", false), meta),
	}

	resp, submission, err := HandleSubmission(payload, now)
	if err != nil {
		t.Fatalf("HandleSubmission: %v", err)
	}
	if submission == nil {
		t.Fatal("valid submission not accepted")
	}
	if submission.Category != CategorySuggestion {
		t.Errorf("Category = %q", submission.Category)
	}
	if submission.UserID != "U123" || submission.UserName != "dana" {
		t.Errorf("attribution = %q/%q", submission.UserID, submission.UserName)
	}
	if submission.ChannelID != "C456" || submission.TeamID != "T789" {
		t.Errorf("routing = %q/%q", submission.ChannelID, submission.TeamID)
	}
	if submission.ID == "" {
		t.Error("submission has no reference ID")
	}
	if !submission.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v", submission.CreatedAt)
	}

	if resp == nil || resp.ResponseAction != "update" {
		t.Fatalf("response = %+v, want response_action=update", resp)
	}
	if resp.View == nil || resp.View.CallbackID != CallbackConfirmation {
		t.Errorf("confirmation view = %+v", resp.View)
	}
}

func TestHandleSubmissionAnonymousDropsIdentity(t *testing.T) {
	t.Parallel()

	payload := &InteractionPayload{
		Type: "view_submission",
		User: InteractionUser{ID: "U123", Username: "dana"},
		View: submittedView(stateWith("other", "just wanted to say the new UI is great", "", true), PrivateMetadata{ChannelID: "C456"}),
	}

	_, submission, err := HandleSubmission(payload, time.Now())
	if err != nil {
		t.Fatalf("HandleSubmission: %v", err)
	}
	if submission == nil {
		t.Fatal("valid submission not accepted")
	}
	if !submission.Anonymous {
		t.Error("Anonymous flag not set")
	}
	if submission.UserID != "" || submission.UserName != "" {
		t.Errorf("anonymous submission kept identity %q/%q", submission.UserID, submission.UserName)
	}
}

func TestHandleSubmissionUnknownCallback(t *testing.T) {
	t.Parallel()

	payload := &InteractionPayload{
		Type: "view_submission",
		View: &SubmittedView{CallbackID: "someone_elses_modal", State: &ViewState{}},
	}
	resp, submission, err := HandleSubmission(payload, time.Now())
	if err != nil || resp != nil || submission != nil {
		t.Errorf("unknown callback should close silently, got resp=%+v submission=%+v err=%v", resp, submission, err)
	}
}

func TestNewFeedbackModalShape(t *testing.T) {
	t.Parallel()

	meta := PrivateMetadata{ChannelID: "C456", UserID: "U123", TeamID: "T789"}
	view := NewFeedbackModal(meta, "")

	if view.CallbackID != CallbackFeedbackSubmit {
		t.Errorf("CallbackID = %q", view.CallbackID)
	}
	if got := DecodePrivateMetadata(view.PrivateMetadata); got != meta {
		t.Errorf("metadata round trip = %+v, want %+v", got, meta)
	}

	blockIDs := make(map[string]bool, len(view.Blocks))
	for _, b := range view.Blocks {
		blockIDs[b.BlockID] = true
	}
	for _, want := range []string{BlockCategory, BlockMessage, BlockEmail, BlockAnonymous} {
		if !blockIDs[want] {
			t.Errorf("modal missing block %q", want)
		}
	}

	for _, b := range view.Blocks {
		switch b.BlockID {
		case BlockCategory:
			if len(b.Element.Options) != 4 {
				t.Errorf("category select has %d options, want 4", len(b.Element.Options))
			}
			if b.Optional {
				t.Error("category must be required")
			}
		case BlockMessage:
			if !b.Element.Multiline {
				t.Error("message input must be multiline")
			}
			if b.Element.MinLength != MinMessageLength {
				t.Errorf("message min length = %d, want %d", b.Element.MinLength, MinMessageLength)
			}
			if b.Element.MaxLength != MaxMessageLength {
				t.Errorf("message max length = %d", b.Element.MaxLength)
			}
		case BlockEmail, BlockAnonymous:
			if !b.Optional {
				t.Errorf("%s must be optional", b.BlockID)
			}
		}
	}
}

func TestNotificationBlocks(t *testing.T) {
	t.Parallel()

	named := &FeedbackSubmission{
		ID: "ref-1", Category: CategoryBug, Message: "the export button 500s",
		UserID: "U123", CreatedAt: time.Unix(1700000000, 0),
	}
	blocks := NotificationBlocks(named)
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(blocks))
	}
	foundMention := false
	for _, f := range blocks[1].Fields {
		if strings.Contains(f.Text, "<@U123>") {
			foundMention = true
		}
	}
	if !foundMention {
		t.Error("named submission does not mention the user")
	}

	anon := &FeedbackSubmission{ID: "ref-2", Category: CategoryOther, Message: "hello", Anonymous: true}
	for _, f := range NotificationBlocks(anon)[1].Fields {
		if strings.Contains(f.Text, "<@") {
			t.Error("anonymous submission leaks a user mention")
		}
	}
}

func TestNewFeedbackModalInitialCategory(t *testing.T) {
	t.Parallel()

	view := NewFeedbackModal(PrivateMetadata{}, "bug")
	var initial *Option
	for _, b := range view.Blocks {
		if b.BlockID == BlockCategory {
			initial = b.Element.InitialOption
		}
	}
	if initial == nil || initial.Value != "bug" {
		t.Errorf("initial option = %+v, want bug pre-selected", initial)
	}

	// Unknown command text must not pre-select anything.
	view = NewFeedbackModal(PrivateMetadata{}, "rant")
	for _, b := range view.Blocks {
		if b.BlockID == BlockCategory && b.Element.InitialOption != nil {
			t.Errorf("unknown category pre-selected %+v", b.Element.InitialOption)
		}
	}
}

func TestSummaryBlocks(t *testing.T) {
	t.Parallel()

	blocks := SummaryBlocks("This week", map[Category]int{CategoryBug: 3, CategoryQuestion: 1})
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if len(blocks[1].Fields) != 4 {
		t.Errorf("summary has %d category fields, want 4", len(blocks[1].Fields))
	}
	if !strings.Contains(blocks[2].Elements[0].Text, "4 submissions") {
		t.Errorf("total line = %q", blocks[2].Elements[0].Text)
	}
}

func TestNotificationFallbackTruncates(t *testing.T) {
	t.Parallel()

	s := &FeedbackSubmission{Category: CategoryBug, Message: strings.Repeat("a", 500)}
	fallback := NotificationFallback(s)
	if len(fallback) > 150 {
		t.Errorf("fallback length = %d, want a short preview", len(fallback))
	}
}
