package discord

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/secure"
)

func testSealer(t *testing.T) *secure.Sealer {
	t.Helper()
	sealer, err := secure.NewSealerFromSecret("unit-test-client-secret")
	if err != nil {
		t.Fatalf("NewSealerFromSecret: %v", err)
	}
	return sealer
}

func TestNewOAuthStateToken(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a, err := NewOAuthState(StateOptions{UserID: "u1"}, now)
	if err != nil {
		t.Fatalf("NewOAuthState: %v", err)
	}
	b, err := NewOAuthState(StateOptions{UserID: "u1"}, now)
	if err != nil {
		t.Fatalf("NewOAuthState: %v", err)
	}

	if len(a.State) != 64 {
		t.Errorf("state token length = %d, want 64 hex chars", len(a.State))
	}
	if a.State == b.State {
		t.Error("two states share the same random token")
	}
	if a.CreatedAt != now.UnixMilli() {
		t.Errorf("CreatedAt = %d, want %d", a.CreatedAt, now.UnixMilli())
	}
}

func TestStateSealRoundTrip(t *testing.T) {
	t.Parallel()

	sealer := testSealer(t)
	state, err := NewOAuthState(StateOptions{UserID: "user-42", ReturnTo: "/settings", GuildID: "123456789012345678"}, time.Now())
	if err != nil {
		t.Fatalf("NewOAuthState: %v", err)
	}

	sealed, err := SealState(sealer, state)
	if err != nil {
		t.Fatalf("SealState: %v", err)
	}
	opened, err := OpenState(sealer, sealed)
	if err != nil {
		t.Fatalf("OpenState: %v", err)
	}

	if *opened != *state {
		t.Errorf("round trip mismatch: got %+v, want %+v", opened, state)
	}
}

func TestOpenStateRejectsTampering(t *testing.T) {
	t.Parallel()

	sealer := testSealer(t)
	state, _ := NewOAuthState(StateOptions{}, time.Now())
	sealed, err := SealState(sealer, state)
	if err != nil {
		t.Fatalf("SealState: %v", err)
	}

	tests := []struct {
		name   string
		sealed string
	}{
		{"garbage", "not-a-sealed-blob"},
		{"truncated", sealed[:len(sealed)/2]},
		{"flipped char", flipChar(sealed)},
		{"empty", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := OpenState(sealer, tt.sealed)
			if err == nil {
				t.Fatal("OpenState accepted a tampered blob")
			}
			if errs.CodeOf(err) != "state_invalid" {
				t.Errorf("code = %q, want state_invalid", errs.CodeOf(err))
			}
		})
	}
}

func TestOpenStateRejectsWrongKey(t *testing.T) {
	t.Parallel()

	state, _ := NewOAuthState(StateOptions{}, time.Now())
	sealed, err := SealState(testSealer(t), state)
	if err != nil {
		t.Fatalf("SealState: %v", err)
	}

	other, err := secure.NewSealerFromSecret("a-different-secret")
	if err != nil {
		t.Fatalf("NewSealerFromSecret: %v", err)
	}
	if _, err := OpenState(other, sealed); err == nil {
		t.Fatal("OpenState accepted a blob sealed under another key")
	}
}

func TestValidateState(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fresh, _ := NewOAuthState(StateOptions{}, now)
	stale, _ := NewOAuthState(StateOptions{}, now.Add(-StateTTL-time.Second))

	tests := []struct {
		name     string
		stored   *OAuthState
		received string
		wantCode string
	}{
		{"match", fresh, fresh.State, ""},
		{"nil stored", nil, fresh.State, "state_invalid"},
		{"empty received", fresh, "", "state_invalid"},
		{"mismatch", fresh, strings.Repeat("f", 64), "state_mismatch"},
		{"expired", stale, stale.State, "state_expired"},
		{"received is prefix", fresh, fresh.State[:32], "state_mismatch"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateState(tt.stored, tt.received, now)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("ValidateState: %v", err)
				}
				return
			}
			if errs.CodeOf(err) != tt.wantCode {
				t.Errorf("code = %q, want %q (err: %v)", errs.CodeOf(err), tt.wantCode, err)
			}
			if !errs.IsKind(err, errs.KindAuthentication) {
				t.Errorf("kind = %q, want authentication", errs.KindOf(err))
			}
		})
	}
}

func TestValidateStateAtExactTTL(t *testing.T) {
	t.Parallel()

	now := time.Now()
	state, _ := NewOAuthState(StateOptions{}, now)

	// Exactly at the boundary the state is still valid; one millisecond
	// past it is not.
	if err := ValidateState(state, state.State, now.Add(StateTTL)); err != nil {
		t.Errorf("state rejected at exact TTL: %v", err)
	}
	if err := ValidateState(state, state.State, now.Add(StateTTL+time.Millisecond)); errs.CodeOf(err) != "state_expired" {
		t.Errorf("code = %q, want state_expired", errs.CodeOf(err))
	}
}

func TestStateCookieAttributes(t *testing.T) {
	t.Parallel()

	cookie := BuildStateCookie("sealed-value", true)
	if cookie.Name != StateCookieName {
		t.Errorf("Name = %q, want %q", cookie.Name, StateCookieName)
	}
	if !cookie.HttpOnly {
		t.Error("state cookie must be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Error("state cookie must be SameSite=Lax")
	}
	if cookie.Path != "/" {
		t.Errorf("Path = %q, want /", cookie.Path)
	}
	if cookie.MaxAge != stateCookieMaxAge {
		t.Errorf("MaxAge = %d, want %d", cookie.MaxAge, stateCookieMaxAge)
	}
	if !cookie.Secure {
		t.Error("Secure flag not carried through")
	}

	clear := ClearStateCookie()
	if clear.MaxAge >= 0 {
		t.Error("clearing cookie must have a negative MaxAge")
	}
}

func TestParseStateCookie(t *testing.T) {
	t.Parallel()

	sealer := testSealer(t)
	state, _ := NewOAuthState(StateOptions{UserID: "u9"}, time.Now())
	sealed, err := SealState(sealer, state)
	if err != nil {
		t.Fatalf("SealState: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/auth/discord/callback", nil)
	r.AddCookie(BuildStateCookie(sealed, false))
	got, err := ParseStateCookie(r, sealer)
	if err != nil {
		t.Fatalf("ParseStateCookie: %v", err)
	}
	if got == nil || got.UserID != "u9" {
		t.Errorf("parsed state = %+v, want UserID u9", got)
	}

	// Absent cookie is not an error; the handler decides how to respond.
	bare := httptest.NewRequest(http.MethodGet, "/auth/discord/callback", nil)
	got, err = ParseStateCookie(bare, sealer)
	if err != nil {
		t.Fatalf("ParseStateCookie without cookie: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil state for absent cookie, got %+v", got)
	}
}

func flipChar(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
