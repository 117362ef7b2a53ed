package slack

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/feedbacktaker/chatbridge/internal/errs"
)

// Modal callback IDs, the state machine's transition labels.
const (
	CallbackFeedbackSubmit = "feedback_modal_submit"
	CallbackConfirmation   = "feedback_confirmation"
)

// Block IDs of the feedback modal inputs. view_submission errors are keyed
// by these.
const (
	BlockCategory  = "feedback_category_block"
	BlockMessage   = "feedback_message_block"
	BlockEmail     = "feedback_email_block"
	BlockAnonymous = "feedback_anonymous_block"
)

// Action IDs of the feedback modal elements.
const (
	ActionCategorySelect    = "feedback_category_select"
	ActionMessageInput      = "feedback_message_input"
	ActionEmailInput        = "feedback_email_input"
	ActionAnonymousCheckbox = "feedback_anonymous_checkbox"
)

// Feedback message bounds. The minimum applies after trimming whitespace.
const (
	MinMessageLength = 10
	MaxMessageLength = 3000
)

// Category is a feedback category value.
type Category string

const (
	CategoryBug        Category = "bug"
	CategorySuggestion Category = "suggestion"
	CategoryQuestion   Category = "question"
	CategoryOther      Category = "other"
)

// categoryLabels drives both the select options and display rendering,
// in menu order.
var categoryLabels = []struct {
	value Category
	label string
}{
	{CategoryBug, "🐛 Bug Report"},
	{CategorySuggestion, "💡 Suggestion"},
	{CategoryQuestion, "❓ Question"},
	{CategoryOther, "📝 Other"},
}

// ValidCategory reports whether s is one of the accepted category values.
func ValidCategory(s string) bool {
	for _, c := range categoryLabels {
		if string(c.value) == s {
			return true
		}
	}
	return false
}

// CategoryLabel returns the display label for a category value, or the raw
// value when unknown.
func CategoryLabel(s string) string {
	for _, c := range categoryLabels {
		if string(c.value) == s {
			return c.label
		}
	}
	return s
}

// emailRe accepts the local@domain.tld shape. Deliverability is not checked.
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// controlCharRe strips control characters from submitted text. Newlines and
// tabs survive.
var controlCharRe = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")

// SanitizeText trims a submitted value and removes control characters.
func SanitizeText(s string) string {
	return strings.TrimSpace(controlCharRe.ReplaceAllString(s, ""))
}

// FeedbackSubmission is a validated, accepted feedback entry.
type FeedbackSubmission struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Message     string    `json:"message"`
	Email       string    `json:"email,omitempty"`
	Anonymous   bool      `json:"anonymous"`
	UserID      string    `json:"userId,omitempty"`
	UserName    string    `json:"userName,omitempty"`
	TeamID      string    `json:"teamId,omitempty"`
	ChannelID   string    `json:"channelId,omitempty"`
	CommandText string    `json:"commandText,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewFeedbackModal builds the feedback entry modal. meta preserves where the
// command was issued so the submission handler can route the result.
// initialCategory pre-selects a category when the slash command named one;
// unknown values are ignored.
func NewFeedbackModal(meta PrivateMetadata, initialCategory string) *ModalView {
	options := make([]Option, 0, len(categoryLabels))
	var initial *Option
	for _, c := range categoryLabels {
		opt := Option{Text: PlainText(c.label), Value: string(c.value)}
		options = append(options, opt)
		if string(c.value) == initialCategory {
			o := opt
			initial = &o
		}
	}

	return &ModalView{
		Type:            "modal",
		CallbackID:      CallbackFeedbackSubmit,
		Title:           PlainText("Send Feedback"),
		Submit:          PlainText("Submit"),
		Close:           PlainText("Cancel"),
		PrivateMetadata: meta.Encode(),
		Blocks: []Block{
			{Type: "section", Text: Mrkdwn("Help us improve. Your feedback goes straight to the team.")},
			{Type: "divider"},
			{
				Type:    "input",
				BlockID: BlockCategory,
				Label:   PlainText("Category"),
				Element: &Element{
					Type:          "static_select",
					ActionID:      ActionCategorySelect,
					Placeholder:   PlainText("Choose a category"),
					Options:       options,
					InitialOption: initial,
				},
			},
			{
				Type:    "input",
				BlockID: BlockMessage,
				Label:   PlainText("Your feedback"),
				Element: &Element{
					Type:        "plain_text_input",
					ActionID:    ActionMessageInput,
					Multiline:   true,
					MinLength:   MinMessageLength,
					MaxLength:   MaxMessageLength,
					Placeholder: PlainText("Tell us what's on your mind (at least 10 characters)"),
				},
			},
			{
				Type:     "input",
				BlockID:  BlockEmail,
				Optional: true,
				Label:    PlainText("Email for follow-up"),
				Element: &Element{
					Type:        "plain_text_input",
					ActionID:    ActionEmailInput,
					Placeholder: PlainText("you@example.com"),
				},
			},
			{
				Type:     "input",
				BlockID:  BlockAnonymous,
				Optional: true,
				Label:    PlainText("Privacy"),
				Element: &Element{
					Type:     "checkboxes",
					ActionID: ActionAnonymousCheckbox,
					Options: []Option{
						{Text: PlainText("Submit anonymously"), Value: "anonymous"},
					},
				},
			},
			{Type: "context", Elements: []*Text{
				Mrkdwn("We read every submission within one business day."),
			}},
		},
	}
}

// NewConfirmationModal builds the view shown after a submission is accepted.
func NewConfirmationModal(submission *FeedbackSubmission) *ModalView {
	body := fmt.Sprintf("*%s*\n\nThanks for your feedback! We read every submission.", CategoryLabel(string(submission.Category)))
	if submission.Email != "" {
		body += "\nWe'll follow up at *" + submission.Email + "* if needed."
	}
	return &ModalView{
		Type:       "modal",
		CallbackID: CallbackConfirmation,
		Title:      PlainText("Feedback Sent"),
		Close:      PlainText("Done"),
		Blocks: []Block{
			{Type: "section", Text: Mrkdwn(body)},
			{Type: "context", Elements: []*Text{
				Mrkdwn("Reference: " + submission.ID),
			}},
		},
	}
}

// NewErrorModal builds a view for failures that happen after validation, for
// example when the modal cannot reach its destination channel.
func NewErrorModal(message string) *ModalView {
	return &ModalView{
		Type:       "modal",
		CallbackID: CallbackConfirmation,
		Title:      PlainText("Something went wrong"),
		Close:      PlainText("Close"),
		Blocks: []Block{
			{Type: "section", Text: Mrkdwn(":warning: " + message)},
		},
	}
}

// ValidateSubmission checks a submitted view's state against the feedback
// rules. The returned map is keyed by block ID, ready for a
// response_action=errors answer; an empty map means the submission passed.
func ValidateSubmission(state *ViewState) map[string]string {
	fieldErrors := make(map[string]string)

	category := state.SelectedValue(BlockCategory, ActionCategorySelect)
	if category == "" {
		fieldErrors[BlockCategory] = "Please choose a category."
	} else if !ValidCategory(category) {
		fieldErrors[BlockCategory] = "Please choose one of the listed categories."
	}

	// Limits count characters, not bytes, so multibyte text is measured the
	// way the platform measures it.
	message := SanitizeText(state.Value(BlockMessage, ActionMessageInput))
	switch {
	case message == "":
		fieldErrors[BlockMessage] = "Please enter your feedback."
	case utf8.RuneCountInString(message) < MinMessageLength:
		fieldErrors[BlockMessage] = fmt.Sprintf("Please write at least %d characters.", MinMessageLength)
	case utf8.RuneCountInString(message) > MaxMessageLength:
		fieldErrors[BlockMessage] = fmt.Sprintf("Please keep feedback under %d characters.", MaxMessageLength)
	}

	email := SanitizeText(state.Value(BlockEmail, ActionEmailInput))
	if email != "" && !emailRe.MatchString(email) {
		fieldErrors[BlockEmail] = "Please enter a valid email address."
	}

	return fieldErrors
}

// BuildSubmission turns a validated view state into a FeedbackSubmission.
// Call ValidateSubmission first; invalid state here is a programming error
// and is reported as such.
func BuildSubmission(view *SubmittedView, user InteractionUser, now time.Time) (*FeedbackSubmission, error) {
	if view == nil || view.State == nil {
		return nil, errs.New(errs.KindValidation, "malformed_payload", "submission payload has no view state")
	}
	if fieldErrors := ValidateSubmission(view.State); len(fieldErrors) > 0 {
		return nil, errs.New(errs.KindValidation, "invalid_submission", "submission failed validation")
	}

	meta := DecodePrivateMetadata(view.PrivateMetadata)
	anonymous := view.State.CheckboxChecked(BlockAnonymous, ActionAnonymousCheckbox)

	submission := &FeedbackSubmission{
		ID:          uuid.NewString(),
		Category:    Category(view.State.SelectedValue(BlockCategory, ActionCategorySelect)),
		Message:     SanitizeText(view.State.Value(BlockMessage, ActionMessageInput)),
		Email:       SanitizeText(view.State.Value(BlockEmail, ActionEmailInput)),
		Anonymous:   anonymous,
		TeamID:      meta.TeamID,
		ChannelID:   meta.ChannelID,
		CommandText: meta.CommandText,
		CreatedAt:   now,
	}
	if !anonymous {
		submission.UserID = user.ID
		submission.UserName = user.Username
	}
	return submission, nil
}

// HandleSubmission runs the state machine transition for a view_submission:
// validation failures answer with field errors and keep the modal open; an
// accepted submission answers with the confirmation view. The returned
// submission is non-nil only on acceptance; side effects on it belong to the
// caller and must not delay the response.
func HandleSubmission(payload *InteractionPayload, now time.Time) (*SubmissionResponse, *FeedbackSubmission, error) {
	if payload == nil || payload.View == nil {
		return nil, nil, errs.New(errs.KindValidation, "malformed_payload", "view_submission payload has no view")
	}
	if payload.View.CallbackID != CallbackFeedbackSubmit {
		// Unknown callbacks close silently rather than erroring; a stale
		// client may still hold an older modal.
		return nil, nil, nil
	}

	if fieldErrors := ValidateSubmission(payload.View.State); len(fieldErrors) > 0 {
		return ErrorsResponse(fieldErrors), nil, nil
	}

	submission, err := BuildSubmission(payload.View, payload.User, now)
	if err != nil {
		return nil, nil, err
	}
	return UpdateResponse(NewConfirmationModal(submission)), submission, nil
}

// NotificationBlocks renders an accepted submission as Block Kit for posting
// to the feedback channel.
func NotificationBlocks(submission *FeedbackSubmission) []Block {
	from := "Anonymous"
	if !submission.Anonymous && submission.UserID != "" {
		from = "<@" + submission.UserID + ">"
	}

	fields := []*Text{
		Mrkdwn("*Category:*\n" + CategoryLabel(string(submission.Category))),
		Mrkdwn("*From:*\n" + from),
	}
	if submission.Email != "" {
		fields = append(fields, Mrkdwn("*Follow-up:*\n"+submission.Email))
	}

	return []Block{
		{Type: "header", Text: PlainText("New Feedback")},
		{Type: "section", Fields: fields},
		{Type: "section", Text: Mrkdwn(submission.Message)},
		{Type: "context", Elements: []*Text{
			Mrkdwn(fmt.Sprintf("Reference %s · %s", submission.ID, submission.CreatedAt.UTC().Format(time.RFC3339))),
		}},
	}
}

// NotificationFallback is the plain-text preview for a feedback post.
func NotificationFallback(submission *FeedbackSubmission) string {
	return fmt.Sprintf("New feedback (%s): %s", submission.Category, truncate(submission.Message, 100))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// SummaryBlocks renders per-category feedback counts, for example a weekly
// digest posted to the feedback channel.
func SummaryBlocks(title string, counts map[Category]int) []Block {
	total := 0
	fields := make([]*Text, 0, len(categoryLabels))
	for _, c := range categoryLabels {
		n := counts[c.value]
		total += n
		fields = append(fields, Mrkdwn(fmt.Sprintf("*%s:*\n%d", c.label, n)))
	}
	return []Block{
		{Type: "header", Text: PlainText(title)},
		{Type: "section", Fields: fields},
		{Type: "context", Elements: []*Text{
			Mrkdwn(fmt.Sprintf("%d submissions in total", total)),
		}},
	}
}

// AnnouncementBlocks renders a channel announcement pointing users at the
// feedback command.
func AnnouncementBlocks(heading, body string) []Block {
	return []Block{
		{Type: "header", Text: PlainText(heading)},
		{Type: "section", Text: Mrkdwn(body)},
		{Type: "divider"},
		{Type: "context", Elements: []*Text{
			Mrkdwn("Run `" + CommandFeedback + "` any time to send us feedback."),
		}},
	}
}
