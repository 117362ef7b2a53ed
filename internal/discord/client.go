package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/logging"
)

const (
	// maxRetries bounds how many times a 429 response is retried. Only 429
	// triggers a retry; all other statuses fail immediately.
	maxRetries = 3

	// baseBackoff is the exponential backoff floor between retries.
	baseBackoff = time.Second

	requestTimeout = 10 * time.Second
)

// Client talks to the Discord REST API with either the bot token or a user
// access token. Every call is bounded by a 10 second timeout and retries
// only on rate-limit responses.
type Client struct {
	httpClient *http.Client
	BaseURL    string
	botToken   string

	// sleep waits out a retry delay; swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client using the bot token for authorization. Calls
// that act on behalf of a user take an explicit bearer token instead.
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

// SendMessage posts a message to a channel as the bot. Empty and oversized
// content is rejected locally without a network round trip.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg CreateMessageRequest) (*Message, error) {
	if !IsSnowflake(channelID) {
		return nil, errs.New(errs.KindValidation, "invalid_channel", "channel ID is not a valid snowflake")
	}
	if msg.Empty() {
		return nil, errs.New(errs.KindValidation, "empty_message", "message must have content or at least one embed")
	}
	if utf8.RuneCountInString(msg.Content) > MaxContentLength {
		return nil, errs.New(errs.KindValidation, "content_too_long",
			fmt.Sprintf("message content exceeds %d characters", MaxContentLength))
	}
	if len(msg.Embeds) > MaxEmbeds {
		return nil, errs.New(errs.KindValidation, "too_many_embeds",
			fmt.Sprintf("a message carries at most %d embeds", MaxEmbeds))
	}

	body, err := c.request(ctx, http.MethodPost, "/channels/"+channelID+"/messages", c.botAuth(), msg)
	if err != nil {
		return nil, err
	}
	var created Message
	if err = json.Unmarshal(body, &created); err != nil {
		return nil, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned an unreadable message object", err)
	}
	return &created, nil
}

// GetChannel fetches one channel as the bot.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	if !IsSnowflake(channelID) {
		return nil, errs.New(errs.KindValidation, "invalid_channel", "channel ID is not a valid snowflake")
	}
	body, err := c.request(ctx, http.MethodGet, "/channels/"+channelID, c.botAuth(), nil)
	if err != nil {
		return nil, err
	}
	var ch Channel
	if err = json.Unmarshal(body, &ch); err != nil {
		return nil, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned an unreadable channel object", err)
	}
	return &ch, nil
}

// GetGuildChannels lists the text and announcement channels of a guild,
// sorted by position. Channels the bot cannot post to are filtered out.
func (c *Client) GetGuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	if !IsSnowflake(guildID) {
		return nil, errs.New(errs.KindValidation, "invalid_guild", "guild ID is not a valid snowflake")
	}
	body, err := c.request(ctx, http.MethodGet, "/guilds/"+guildID+"/channels", c.botAuth(), nil)
	if err != nil {
		return nil, err
	}
	var all []Channel
	if err = json.Unmarshal(body, &all); err != nil {
		return nil, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned an unreadable channel list", err)
	}
	sendable := make([]Channel, 0, len(all))
	for _, ch := range all {
		if ch.Sendable() {
			sendable = append(sendable, ch)
		}
	}
	sort.Slice(sendable, func(i, j int) bool { return sendable[i].Position < sendable[j].Position })
	return sendable, nil
}

// CurrentUser fetches the authorizing user's profile with their access token.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	body, err := c.request(ctx, http.MethodGet, "/users/@me", bearerAuth(accessToken), nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err = json.Unmarshal(body, &user); err != nil {
		return nil, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned an unreadable user object", err)
	}
	return &user, nil
}

// CurrentUserGuilds lists the guilds of the authorizing user.
func (c *Client) CurrentUserGuilds(ctx context.Context, accessToken string) ([]PartialGuild, error) {
	body, err := c.request(ctx, http.MethodGet, "/users/@me/guilds", bearerAuth(accessToken), nil)
	if err != nil {
		return nil, err
	}
	var guilds []PartialGuild
	if err = json.Unmarshal(body, &guilds); err != nil {
		return nil, errs.Wrap(errs.KindRemoteAPI, "malformed_response", "platform returned an unreadable guild list", err)
	}
	return guilds, nil
}

func (c *Client) botAuth() string {
	return "Bot " + c.botToken
}

func bearerAuth(accessToken string) string {
	return "Bearer " + accessToken
}

// request performs one API call with rate-limit retry. The response body is
// returned for 2xx statuses; everything else is normalized into the error
// taxonomy.
func (c *Client) request(ctx context.Context, method, path, auth string, payload interface{}) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("discord: marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		body, retryAfter, err := c.doOnce(ctx, method, path, auth, encoded)
		if err == nil {
			return body, nil
		}
		if !errs.IsKind(err, errs.KindRateLimited) || attempt >= maxRetries {
			return nil, err
		}

		// Wait the longer of the platform's hint and the exponential floor.
		delay := baseBackoff << attempt
		if retryAfter > delay {
			delay = retryAfter
		}
		log.WithFields(log.Fields{
			"platform": "discord",
			"endpoint": path,
		}).Warnf("rate limited, retrying in %s (attempt %d/%d)", delay, attempt+1, maxRetries)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, errs.Wrap(errs.KindTransport, "request_cancelled", "request cancelled while waiting out a rate limit", sleepErr)
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, path, auth string, encoded []byte) ([]byte, time.Duration, error) {
	var reqBody io.Reader
	if encoded != nil {
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindTransport, "request_failed", "could not reach the platform API", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindTransport, "response_read_failed", "could not read the platform response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, 0, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := retryAfterHint(resp, body)
		return nil, retryAfter, errs.RateLimited("rate_limited", "the platform is rate limiting this bot", retryAfter)
	}
	return nil, 0, normalizeAPIError(path, resp.StatusCode, body)
}

// retryAfterHint reads the retry delay from the Retry-After header or the
// 429 body, whichever is present.
func retryAfterHint(resp *http.Response, body []byte) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if v := gjson.GetBytes(body, "retry_after"); v.Exists() && v.Float() > 0 {
		return time.Duration(v.Float() * float64(time.Second))
	}
	return 0
}

// discordErrorCodes maps the platform's numeric error codes to stable
// internal codes.
var discordErrorCodes = map[int]struct {
	kind    errs.Kind
	code    string
	message string
}{
	10003: {errs.KindRemoteAPI, "unknown_channel", "the channel no longer exists or the bot cannot see it"},
	10004: {errs.KindRemoteAPI, "unknown_guild", "the server no longer exists or the bot was removed"},
	40001: {errs.KindAuthentication, "unauthorized", "the bot token was rejected"},
	50001: {errs.KindRemoteAPI, "missing_access", "the bot does not have access to that channel"},
	50013: {errs.KindRemoteAPI, "missing_permissions", "the bot lacks permission to post in that channel"},
	50035: {errs.KindValidation, "invalid_form_body", "the platform rejected the message body"},
}

// normalizeAPIError turns a non-2xx response into a taxonomy error with a
// stable code. Raw remote payloads are logged, never returned to callers.
func normalizeAPIError(path string, status int, body []byte) error {
	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)

	log.WithFields(log.Fields{
		"platform": "discord",
		"endpoint": path,
		"error":    apiErr.Code,
	}).Warnf("API call failed with status %d: %s", status, logging.MaskToken(apiErr.Message))

	if mapped, ok := discordErrorCodes[apiErr.Code]; ok {
		return &errs.Error{Kind: mapped.kind, Code: mapped.code, Message: mapped.message, HTTPStatus: status}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &errs.Error{Kind: errs.KindAuthentication, Code: "unauthorized", Message: "the platform rejected the credentials", HTTPStatus: status}
	case status == http.StatusNotFound:
		return &errs.Error{Kind: errs.KindRemoteAPI, Code: "not_found", Message: "the requested resource does not exist", HTTPStatus: status}
	case status >= 500:
		return &errs.Error{Kind: errs.KindRemoteAPI, Code: "server_error", Message: "the platform is having trouble, try again later", HTTPStatus: status}
	default:
		return &errs.Error{Kind: errs.KindRemoteAPI, Code: "api_error", Message: "the platform rejected the request", HTTPStatus: status}
	}
}
