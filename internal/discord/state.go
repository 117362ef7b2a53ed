package discord

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/secure"
)

const (
	// StateCookieName stores the sealed OAuth state between the login
	// redirect and the callback.
	StateCookieName = "discord_oauth_state"

	// StateTTL bounds how long a state remains acceptable.
	StateTTL = 10 * time.Minute

	// stateCookieMaxAge matches StateTTL, in seconds.
	stateCookieMaxAge = 600
)

// OAuthState is the CSRF state for one authorization flow. The raw random
// token travels to the platform as the state query parameter; the whole
// object, sealed, lives only in the cookie.
type OAuthState struct {
	// State is a 32-byte random token, hex encoded.
	State string `json:"state"`

	// UserID is the local user initiating the flow, when known.
	UserID string `json:"userId,omitempty"`

	// ReturnTo is the path to redirect to after the flow completes.
	ReturnTo string `json:"returnTo,omitempty"`

	// GuildID optionally pre-selects the guild for the bot.
	GuildID string `json:"guildId,omitempty"`

	// CreatedAt is a unix-millisecond timestamp.
	CreatedAt int64 `json:"createdAt"`
}

// StateOptions carries the optional fields of a new OAuthState.
type StateOptions struct {
	UserID   string
	ReturnTo string
	GuildID  string
}

// NewOAuthState generates a state with a fresh 32-byte random token.
func NewOAuthState(opts StateOptions, now time.Time) (*OAuthState, error) {
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("discord: generate state token: %w", err)
	}
	return &OAuthState{
		State:     hex.EncodeToString(token),
		UserID:    opts.UserID,
		ReturnTo:  opts.ReturnTo,
		GuildID:   opts.GuildID,
		CreatedAt: now.UnixMilli(),
	}, nil
}

// SealState serializes and seals a state for cookie storage.
func SealState(sealer *secure.Sealer, state *OAuthState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("discord: marshal state: %w", err)
	}
	return sealer.Seal(raw)
}

// OpenState unseals and parses a state cookie value. Any decode,
// authentication, or parse failure yields a single authentication error
// rather than partial data.
func OpenState(sealer *secure.Sealer, sealed string) (*OAuthState, error) {
	raw, err := sealer.Open(sealed)
	if err != nil {
		return nil, errs.New(errs.KindAuthentication, "state_invalid", "invalid or missing OAuth state")
	}
	var state OAuthState
	if err = json.Unmarshal(raw, &state); err != nil {
		return nil, errs.New(errs.KindAuthentication, "state_invalid", "invalid or missing OAuth state")
	}
	return &state, nil
}

// ValidateState checks a callback against the stored state: the platform's
// returned token must byte-for-byte match the cookie's token (compared in
// constant time) and the state must be younger than StateTTL.
func ValidateState(stored *OAuthState, received string, now time.Time) error {
	if stored == nil || stored.State == "" {
		return errs.New(errs.KindAuthentication, "state_invalid", "no stored state; session may have expired")
	}
	if received == "" {
		return errs.New(errs.KindAuthentication, "state_invalid", "no state returned by the platform")
	}
	if !secure.ConstantTimeEqual(stored.State, received) {
		return errs.New(errs.KindAuthentication, "state_mismatch", "state mismatch; possible CSRF attempt")
	}
	if now.UnixMilli()-stored.CreatedAt > StateTTL.Milliseconds() {
		return errs.New(errs.KindAuthentication, "state_expired", "state expired; please try connecting again")
	}
	return nil
}

// BuildStateCookie returns the state cookie for the login redirect.
func BuildStateCookie(sealed string, secureFlag bool) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    sealed,
		MaxAge:   stateCookieMaxAge,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secureFlag,
	}
}

// ClearStateCookie returns a cookie that deletes the state. The callback
// sets this on every outcome so a state is never reusable.
func ClearStateCookie() *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ParseStateCookie extracts and opens the state cookie from a request.
// Returns nil without error when the cookie is absent.
func ParseStateCookie(r *http.Request, sealer *secure.Sealer) (*OAuthState, error) {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return OpenState(sealer, cookie.Value)
}
