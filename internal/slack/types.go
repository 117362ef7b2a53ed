// Package slack implements the Slack side of the integration: signed
// webhook verification, the Web API client with rate-limit retry, and the
// feedback modal state machine.
package slack

import "encoding/json"

// API endpoints.
const (
	APIBase = "https://slack.com/api"

	// SignatureVersion prefixes both the signing basestring and the
	// signature header value.
	SignatureVersion = "v0"

	// HeaderSignature and HeaderTimestamp carry Slack's request signature.
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
)

// Slash commands routed to the feedback flow.
const (
	CommandFeedback      = "/feedback"
	CommandFeedbackTaker = "/feedbacktaker"
)

// Text is a Block Kit text object, either plain_text or mrkdwn.
type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// PlainText builds a plain_text object with emoji rendering on.
func PlainText(s string) *Text {
	return &Text{Type: "plain_text", Text: s, Emoji: true}
}

// Mrkdwn builds a mrkdwn text object.
func Mrkdwn(s string) *Text {
	return &Text{Type: "mrkdwn", Text: s}
}

// Option is one entry in a static select or checkbox group.
type Option struct {
	Text  *Text  `json:"text"`
	Value string `json:"value"`
}

// Element is a Block Kit interactive element. Only the fields used by the
// feedback modal are modeled.
type Element struct {
	Type           string   `json:"type"`
	ActionID       string   `json:"action_id,omitempty"`
	Placeholder    *Text    `json:"placeholder,omitempty"`
	Options        []Option `json:"options,omitempty"`
	InitialOption  *Option  `json:"initial_option,omitempty"`
	Multiline      bool     `json:"multiline,omitempty"`
	MaxLength      int      `json:"max_length,omitempty"`
	MinLength      int      `json:"min_length,omitempty"`
	InitialValue   string   `json:"initial_value,omitempty"`
	InitialOptions []Option `json:"initial_options,omitempty"`
}

// Block is a Block Kit layout block.
type Block struct {
	Type     string   `json:"type"`
	BlockID  string   `json:"block_id,omitempty"`
	Text     *Text    `json:"text,omitempty"`
	Label    *Text    `json:"label,omitempty"`
	Element  *Element `json:"element,omitempty"`
	Elements []*Text  `json:"elements,omitempty"`
	Fields   []*Text  `json:"fields,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

// ModalView is the view object sent to views.open, views.update, and
// views.push.
type ModalView struct {
	Type            string  `json:"type"`
	CallbackID      string  `json:"callback_id,omitempty"`
	Title           *Text   `json:"title"`
	Submit          *Text   `json:"submit,omitempty"`
	Close           *Text   `json:"close,omitempty"`
	Blocks          []Block `json:"blocks"`
	PrivateMetadata string  `json:"private_metadata,omitempty"`
	ClearOnClose    bool    `json:"clear_on_close,omitempty"`
	NotifyOnClose   bool    `json:"notify_on_close,omitempty"`
}

// ViewStateValue is one input's submitted value. The populated field depends
// on the element type.
type ViewStateValue struct {
	Type            string   `json:"type"`
	Value           string   `json:"value,omitempty"`
	SelectedOption  *Option  `json:"selected_option,omitempty"`
	SelectedOptions []Option `json:"selected_options,omitempty"`
}

// ViewState maps block ID to action ID to the submitted value.
type ViewState struct {
	Values map[string]map[string]ViewStateValue `json:"values"`
}

// Value returns the plain value submitted for a block/action pair, or "".
func (s *ViewState) Value(blockID, actionID string) string {
	if s == nil {
		return ""
	}
	return s.Values[blockID][actionID].Value
}

// SelectedValue returns the selected option's value for a block/action pair.
func (s *ViewState) SelectedValue(blockID, actionID string) string {
	if s == nil {
		return ""
	}
	if opt := s.Values[blockID][actionID].SelectedOption; opt != nil {
		return opt.Value
	}
	return ""
}

// CheckboxChecked reports whether a checkbox group has any option selected.
func (s *ViewState) CheckboxChecked(blockID, actionID string) bool {
	if s == nil {
		return false
	}
	return len(s.Values[blockID][actionID].SelectedOptions) > 0
}

// SubmittedView is the view object inside a view_submission payload.
type SubmittedView struct {
	ID              string     `json:"id"`
	CallbackID      string     `json:"callback_id"`
	PrivateMetadata string     `json:"private_metadata"`
	State           *ViewState `json:"state"`
	Hash            string     `json:"hash"`
}

// InteractionUser identifies the user driving an interaction.
type InteractionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	TeamID   string `json:"team_id"`
}

// InteractionPayload is the decoded body of an interactivity webhook.
type InteractionPayload struct {
	Type        string          `json:"type"`
	TriggerID   string          `json:"trigger_id"`
	User        InteractionUser `json:"user"`
	Team        struct {
		ID string `json:"id"`
	} `json:"team"`
	View        *SubmittedView `json:"view,omitempty"`
	ResponseURL string         `json:"response_url,omitempty"`
}

// SlashCommand is the decoded form body of a slash-command webhook.
type SlashCommand struct {
	Command     string
	Text        string
	UserID      string
	UserName    string
	ChannelID   string
	TeamID      string
	TriggerID   string
	ResponseURL string
}

// APIResponse is the envelope every Web API method returns. A 200 status
// with ok:false is still an API error.
type APIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PostMessageResponse is the chat.postMessage result subset callers need.
type PostMessageResponse struct {
	APIResponse
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// UserInfoResponse is the users.info result subset.
type UserInfoResponse struct {
	APIResponse
	User struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Profile struct {
			RealName    string `json:"real_name"`
			DisplayName string `json:"display_name"`
			Email       string `json:"email"`
		} `json:"profile"`
	} `json:"user"`
}

// SubmissionResponse is the synchronous answer to a view_submission: either
// field-level errors (keyed by block ID) or an update to the confirmation
// view. A nil response closes the modal.
type SubmissionResponse struct {
	ResponseAction string            `json:"response_action"`
	Errors         map[string]string `json:"errors,omitempty"`
	View           *ModalView        `json:"view,omitempty"`
}

// ErrorsResponse builds a response_action=errors answer.
func ErrorsResponse(errors map[string]string) *SubmissionResponse {
	return &SubmissionResponse{ResponseAction: "errors", Errors: errors}
}

// UpdateResponse builds a response_action=update answer showing a new view.
func UpdateResponse(view *ModalView) *SubmissionResponse {
	return &SubmissionResponse{ResponseAction: "update", View: view}
}

// PrivateMetadata is the JSON carried through the modal in private_metadata,
// preserving where the command was issued.
type PrivateMetadata struct {
	ChannelID   string `json:"channelId"`
	UserID      string `json:"userId"`
	TeamID      string `json:"teamId"`
	CommandText string `json:"commandText,omitempty"`
}

// Encode serializes the metadata for embedding in a view.
func (m PrivateMetadata) Encode() string {
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// DecodePrivateMetadata parses the metadata out of a submitted view. Returns
// the zero value for empty or corrupt input; the submission handler treats
// missing context as best-effort.
func DecodePrivateMetadata(s string) PrivateMetadata {
	var m PrivateMetadata
	if s == "" {
		return m
	}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}
