package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/feedbacktaker/chatbridge/internal/errs"
)

const (
	maxRetries     = 3
	baseBackoff    = time.Second
	requestTimeout = 10 * time.Second
)

// Client calls the Slack Web API with the bot token. A 200 response with
// ok:false is still an API error; the error field is mapped into the
// taxonomy before it reaches callers.
type Client struct {
	httpClient *http.Client
	BaseURL    string
	botToken   string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Web API client for the workspace's bot token.
func NewClient(botToken string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		BaseURL:    APIBase,
		botToken:   botToken,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PostMessage sends blocks to a channel via chat.postMessage. A plain-text
// fallback is injected so notification previews stay readable.
func (c *Client) PostMessage(ctx context.Context, channelID, fallbackText string, blocks []Block) (*PostMessageResponse, error) {
	if channelID == "" {
		return nil, errs.New(errs.KindValidation, "missing_channel", "channel ID is required")
	}
	body, err := messageBody(channelID, fallbackText, blocks)
	if err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "chat.postMessage", body)
	if err != nil {
		return nil, err
	}
	var resp PostMessageResponse
	if err = json.Unmarshal(raw, &resp); err != nil {
		return nil, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned an unreadable message result", err)
	}
	return &resp, nil
}

// PostEphemeral sends a message only the target user can see.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, fallbackText string, blocks []Block) error {
	body, err := messageBody(channelID, fallbackText, blocks)
	if err != nil {
		return err
	}
	body, err = sjson.SetBytes(body, "user", userID)
	if err != nil {
		return fmt.Errorf("slack: build ephemeral body: %w", err)
	}
	_, err = c.call(ctx, "chat.postEphemeral", body)
	return err
}

// UpdateMessage edits a previously posted message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, fallbackText string, blocks []Block) error {
	body, err := messageBody(channelID, fallbackText, blocks)
	if err != nil {
		return err
	}
	body, err = sjson.SetBytes(body, "ts", ts)
	if err != nil {
		return fmt.Errorf("slack: build update body: %w", err)
	}
	_, err = c.call(ctx, "chat.update", body)
	return err
}

// DeleteMessage removes a posted message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, ts string) error {
	body, err := json.Marshal(map[string]string{"channel": channelID, "ts": ts})
	if err != nil {
		return fmt.Errorf("slack: build delete body: %w", err)
	}
	_, err = c.call(ctx, "chat.delete", body)
	return err
}

// OpenModal opens a modal view against an interaction's trigger ID. Trigger
// IDs expire three seconds after issuance, so callers open the modal before
// any slower work.
func (c *Client) OpenModal(ctx context.Context, triggerID string, view *ModalView) error {
	if triggerID == "" {
		return errs.New(errs.KindValidation, "missing_trigger", "trigger ID is required to open a modal")
	}
	return c.viewCall(ctx, "views.open", map[string]interface{}{
		"trigger_id": triggerID,
		"view":       view,
	})
}

// UpdateModal replaces an open modal's view.
func (c *Client) UpdateModal(ctx context.Context, viewID, hash string, view *ModalView) error {
	body := map[string]interface{}{
		"view_id": viewID,
		"view":    view,
	}
	if hash != "" {
		body["hash"] = hash
	}
	return c.viewCall(ctx, "views.update", body)
}

// PushModal stacks a new view on top of the open modal.
func (c *Client) PushModal(ctx context.Context, triggerID string, view *ModalView) error {
	return c.viewCall(ctx, "views.push", map[string]interface{}{
		"trigger_id": triggerID,
		"view":       view,
	})
}

func (c *Client) viewCall(ctx context.Context, method string, body map[string]interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("slack: build %s body: %w", method, err)
	}
	_, err = c.call(ctx, method, encoded)
	return err
}

// UserInfo fetches a user's profile for attribution on non-anonymous
// feedback.
func (c *Client) UserInfo(ctx context.Context, userID string) (*UserInfoResponse, error) {
	body, err := json.Marshal(map[string]string{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("slack: build users.info body: %w", err)
	}
	raw, err := c.call(ctx, "users.info", body)
	if err != nil {
		return nil, err
	}
	var resp UserInfoResponse
	if err = json.Unmarshal(raw, &resp); err != nil {
		return nil, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned an unreadable user result", err)
	}
	return &resp, nil
}

// SendResponseURL posts to an interaction's response_url. These URLs accept
// a bare JSON body with no authorization header.
func (c *Client) SendResponseURL(ctx context.Context, responseURL, text string, ephemeral bool) error {
	if responseURL == "" {
		return errs.New(errs.KindValidation, "missing_response_url", "response URL is required")
	}
	payload := map[string]string{"text": text}
	if ephemeral {
		payload["response_type"] = "ephemeral"
	} else {
		payload["response_type"] = "in_channel"
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slack: build response_url body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("slack: build response_url request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "request_failed", "could not reach the response URL", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return errs.New(errs.KindRemoteAPI, "response_url_failed", fmt.Sprintf("response URL returned status %d", resp.StatusCode))
	}
	return nil
}

// messageBody builds a chat.* body, injecting the fallback text alongside
// the blocks.
func messageBody(channelID, fallbackText string, blocks []Block) ([]byte, error) {
	body, err := json.Marshal(map[string]interface{}{
		"channel": channelID,
		"blocks":  blocks,
	})
	if err != nil {
		return nil, fmt.Errorf("slack: build message body: %w", err)
	}
	if fallbackText != "" {
		body, err = sjson.SetBytes(body, "text", fallbackText)
		if err != nil {
			return nil, fmt.Errorf("slack: inject fallback text: %w", err)
		}
	}
	return body, nil
}

// call performs one Web API method with rate-limit retry and ok:false
// normalization.
func (c *Client) call(ctx context.Context, method string, body []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		raw, retryAfter, err := c.doOnce(ctx, method, body)
		if err == nil {
			return raw, nil
		}
		if !errs.IsKind(err, errs.KindRateLimited) || attempt >= maxRetries {
			return nil, err
		}
		delay := baseBackoff << attempt
		if retryAfter > delay {
			delay = retryAfter
		}
		log.WithFields(log.Fields{
			"platform": "slack",
			"endpoint": method,
		}).Warnf("rate limited, retrying in %s (attempt %d/%d)", delay, attempt+1, maxRetries)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, errs.Wrap(errs.KindTransport, "request_cancelled", "request cancelled while waiting out a rate limit", sleepErr)
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method string, body []byte) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindTransport, "request_failed", "could not reach the platform API", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindTransport, "response_read_failed", "could not read the platform response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, parseErr := strconv.Atoi(header); parseErr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, retryAfter, errs.RateLimited("rate_limited", "the platform is rate limiting this bot", retryAfter)
	}
	if resp.StatusCode >= 300 {
		return nil, 0, &errs.Error{
			Kind:       errs.KindRemoteAPI,
			Code:       "api_error",
			Message:    "the platform rejected the request",
			HTTPStatus: resp.StatusCode,
		}
	}

	var envelope APIResponse
	if err = json.Unmarshal(raw, &envelope); err != nil {
		return nil, 0, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned a non-JSON body", err)
	}
	if !envelope.OK {
		return nil, 0, normalizeAPIError(method, envelope.Error)
	}
	return raw, 0, nil
}

// slackErrorCodes maps Web API error strings to taxonomy entries.
var slackErrorCodes = map[string]struct {
	kind    errs.Kind
	code    string
	message string
}{
	"channel_not_found":  {errs.KindRemoteAPI, "unknown_channel", "the channel no longer exists or the bot cannot see it"},
	"not_in_channel":     {errs.KindRemoteAPI, "missing_access", "the bot is not a member of that channel"},
	"is_archived":        {errs.KindRemoteAPI, "channel_archived", "the channel has been archived"},
	"invalid_auth":       {errs.KindAuthentication, "unauthorized", "the bot token was rejected"},
	"token_revoked":      {errs.KindAuthentication, "unauthorized", "the bot token was revoked"},
	"account_inactive":   {errs.KindAuthentication, "unauthorized", "the bot account is inactive"},
	"missing_scope":      {errs.KindAuthentication, "missing_scope", "the bot token lacks a required scope"},
	"expired_trigger_id": {errs.KindValidation, "expired_trigger", "the interaction expired before the modal could open"},
	"invalid_blocks":     {errs.KindValidation, "invalid_blocks", "the platform rejected the message blocks"},
	"msg_too_long":       {errs.KindValidation, "content_too_long", "the message is too long for the platform"},
	"user_not_found":     {errs.KindRemoteAPI, "unknown_user", "the user no longer exists"},
	"ratelimited":        {errs.KindRateLimited, "rate_limited", "the platform is rate limiting this bot"},
}

// normalizeAPIError maps an ok:false error string to a stable internal code.
func normalizeAPIError(method, apiError string) error {
	log.WithFields(log.Fields{
		"platform": "slack",
		"endpoint": method,
		"error":    apiError,
	}).Warn("API call returned ok:false")

	if mapped, ok := slackErrorCodes[apiError]; ok {
		if mapped.kind == errs.KindRateLimited {
			return errs.RateLimited(mapped.code, mapped.message, 0)
		}
		return errs.New(mapped.kind, mapped.code, mapped.message)
	}
	return errs.New(errs.KindRemoteAPI, "api_error", "the platform rejected the request")
}
