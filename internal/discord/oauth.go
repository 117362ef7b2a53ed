package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/logging"
)

// TokenSet is the result of a code exchange or refresh. A refresh replaces
// the set wholesale; the core never caches one beyond the current request.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string

	// GuildID is set when the bot scope was granted and Discord reports
	// the guild the bot was added to.
	GuildID string
}

// Expired reports whether the access token needs a proactive refresh.
// Callers compare before every authenticated call, not after a failure.
func (t *TokenSet) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// HasScope reports whether the grant includes the named scope.
func (t *TokenSet) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// OAuthFlow drives the authorization-code grant: authorization URL
// construction, single-shot code exchange, proactive refresh, and
// best-effort revocation.
type OAuthFlow struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewOAuthFlow builds a flow controller bound to one application's
// credentials.
func NewOAuthFlow(clientID, clientSecret, redirectURI string) *OAuthFlow {
	return &OAuthFlow{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       DefaultOAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   OAuthAuthorizeURL,
				TokenURL:  OAuthTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthorizationURL builds the redirect URL for a state. The query carries
// the state's raw random token; the sealed blob stays in the cookie.
func (f *OAuthFlow) AuthorizationURL(state *OAuthState) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("permissions", strconv.Itoa(DefaultBotPermissions)),
	}
	if state.GuildID != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("guild_id", state.GuildID),
			oauth2.SetAuthURLParam("disable_guild_select", "true"),
		)
	}
	return f.conf.AuthCodeURL(state.State, opts...)
}

// Exchange performs the single server-to-server token exchange for an
// authorization code. Codes are single-use, so failures here are reported
// and never retried.
func (f *OAuthFlow) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	if code == "" {
		return nil, errs.New(errs.KindValidation, "no_code", "no authorization code received")
	}
	token, err := f.conf.Exchange(f.withHTTPClient(ctx), code)
	if err != nil {
		return nil, classifyTokenError("token exchange", err)
	}
	return tokenSetFromToken(token), nil
}

// Refresh exchanges a refresh token for a fresh token set.
func (f *OAuthFlow) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, errs.New(errs.KindValidation, "no_refresh_token", "refresh token is required")
	}
	src := f.conf.TokenSource(f.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, classifyTokenError("token refresh", err)
	}
	return tokenSetFromToken(token), nil
}

// Revoke invalidates a token. Best-effort: callers log failures but never
// escalate them.
func (f *OAuthFlow) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if tokenTypeHint == "" {
		tokenTypeHint = "access_token"
	}
	form := url.Values{
		"client_id":       {f.conf.ClientID},
		"client_secret":   {f.conf.ClientSecret},
		"token":           {token},
		"token_type_hint": {tokenTypeHint},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, OAuthRevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("discord: build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "revoke_failed", "token revocation failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return errs.New(errs.KindRemoteAPI, "revoke_failed", fmt.Sprintf("token revocation returned status %d", resp.StatusCode))
	}
	log.Debugf("revoked discord %s %s", tokenTypeHint, logging.MaskToken(token))
	return nil
}

// withHTTPClient pins the flow's timeout-bounded client for oauth2 calls
// while preserving the caller's cancellation.
func (f *OAuthFlow) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

// tokenSetFromToken normalizes an oauth2 token plus Discord's extra fields.
func tokenSetFromToken(token *oauth2.Token) *TokenSet {
	set := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		set.Scopes = strings.Fields(scope)
	}
	// The bot scope adds a guild object to the token response.
	if guild, ok := token.Extra("guild").(map[string]interface{}); ok {
		if id, okID := guild["id"].(string); okID {
			set.GuildID = id
		}
	}
	return set
}

// classifyTokenError separates platform-reported errors from transport
// failures. Remote bodies are parsed for the structured error but never
// echoed to callers.
func classifyTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		code := gjson.GetBytes(retrieveErr.Body, "error").String()
		if code == "" {
			code = "token_endpoint_error"
		}
		log.WithField("error", code).Warnf("%s rejected with status %d", op, statusOf(retrieveErr))
		return &errs.Error{
			Kind:       errs.KindRemoteAPI,
			Code:       code,
			Message:    op + " was rejected by the platform",
			HTTPStatus: statusOf(retrieveErr),
			Err:        err,
		}
	}
	return errs.Wrap(errs.KindTransport, "token_endpoint_unreachable", op+" failed", err)
}

func statusOf(err *oauth2.RetrieveError) int {
	if err.Response != nil {
		return err.Response.StatusCode
	}
	return 0
}

// BotInviteURL builds the plain bot authorization URL (no code grant), used
// to add the bot to a guild without linking an account.
func BotInviteURL(clientID, guildID string) string {
	params := url.Values{
		"client_id":   {clientID},
		"permissions": {strconv.Itoa(DefaultBotPermissions)},
		"scope":       {"bot"},
	}
	if guildID != "" {
		params.Set("guild_id", guildID)
		params.Set("disable_guild_select", "true")
	}
	return OAuthAuthorizeURL + "?" + params.Encode()
}
