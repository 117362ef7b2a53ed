package slack

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/logging"
	"github.com/feedbacktaker/chatbridge/internal/secure"
)

// maxTimestampDrift bounds how far a webhook's timestamp may lie from the
// server clock, in either direction. Older requests are treated as replays.
const maxTimestampDrift = 5 * time.Minute

// Verifier checks Slack request signatures over the raw body. The timestamp
// window is checked before any HMAC work so replayed requests never reach
// the signature computation.
type Verifier struct {
	signingSecret []byte
	now           func() time.Time
}

// NewVerifier builds a verifier for the workspace's signing secret.
func NewVerifier(signingSecret string) *Verifier {
	return &Verifier{
		signingSecret: []byte(signingSecret),
		now:           time.Now,
	}
}

// Verify checks the signature headers against the raw request body. The
// body must be the exact bytes received, before any parsing.
func (v *Verifier) Verify(rawBody []byte, timestamp, signature string) error {
	if timestamp == "" || signature == "" {
		return errs.New(errs.KindAuthentication, "missing_signature", "request is missing signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errs.New(errs.KindAuthentication, "invalid_timestamp", "request timestamp is not a number")
	}
	drift := v.now().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > maxTimestampDrift {
		log.WithField("platform", "slack").Warnf("webhook rejected: timestamp drift %ds exceeds the replay window", drift)
		return errs.New(errs.KindAuthentication, "stale_timestamp", "request timestamp is outside the allowed window")
	}

	basestring := SignatureVersion + ":" + timestamp + ":" + string(rawBody)
	expected := SignatureVersion + "=" + secure.SignHMAC(v.signingSecret, []byte(basestring))
	if !secure.ConstantTimeEqual(expected, signature) {
		log.WithField("platform", "slack").Warn("webhook rejected: signature mismatch")
		return errs.New(errs.KindAuthentication, "bad_signature", "request signature does not match")
	}
	return nil
}

// VerifyRequest extracts the signature headers from r and checks them
// against rawBody.
func (v *Verifier) VerifyRequest(r *http.Request, rawBody []byte) error {
	return v.Verify(rawBody, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature))
}

// ParseSlashCommand decodes a verified slash-command form body.
func ParseSlashCommand(rawBody []byte) (*SlashCommand, error) {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "malformed_body", "slash command body is not form encoded", err)
	}
	cmd := &SlashCommand{
		Command:     form.Get("command"),
		Text:        strings.TrimSpace(form.Get("text")),
		UserID:      form.Get("user_id"),
		UserName:    form.Get("user_name"),
		ChannelID:   form.Get("channel_id"),
		TeamID:      form.Get("team_id"),
		TriggerID:   form.Get("trigger_id"),
		ResponseURL: form.Get("response_url"),
	}
	if cmd.Command == "" || cmd.UserID == "" {
		return nil, errs.New(errs.KindValidation, "malformed_body", "slash command body is missing required fields")
	}
	log.WithFields(log.Fields{
		"platform": "slack",
		"user":     logging.MaskID(cmd.UserID),
		"team":     logging.MaskID(cmd.TeamID),
	}).Debugf("slash command %s received", cmd.Command)
	return cmd, nil
}

// ParseInteractionPayload decodes a verified interactivity body: a form with
// a single payload field holding JSON. The payload type is probed with gjson
// before the full decode so junk is rejected cheaply.
func ParseInteractionPayload(rawBody []byte) (*InteractionPayload, error) {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "malformed_body", "interaction body is not form encoded", err)
	}
	raw := form.Get("payload")
	if raw == "" {
		return nil, errs.New(errs.KindValidation, "malformed_body", "interaction body has no payload field")
	}
	if !gjson.Valid(raw) || gjson.Get(raw, "type").String() == "" {
		return nil, errs.New(errs.KindValidation, "malformed_payload", "interaction payload is not valid JSON")
	}

	var payload InteractionPayload
	if err = json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "malformed_payload", "interaction payload could not be decoded", err)
	}
	return &payload, nil
}
