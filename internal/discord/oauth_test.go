package discord

import (
	"net/url"
	"strconv"
	"testing"
	"time"
)

func TestAuthorizationURL(t *testing.T) {
	t.Parallel()

	flow := NewOAuthFlow("app-id", "app-secret", "https://example.com/auth/discord/callback")
	state, err := NewOAuthState(StateOptions{GuildID: "123456789012345678"}, time.Now())
	if err != nil {
		t.Fatalf("NewOAuthState: %v", err)
	}

	raw := flow.AuthorizationURL(state)
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse authorization URL: %v", err)
	}
	q := parsed.Query()

	if got := q.Get("client_id"); got != "app-id" {
		t.Errorf("client_id = %q", got)
	}
	if got := q.Get("response_type"); got != "code" {
		t.Errorf("response_type = %q", got)
	}
	if got := q.Get("redirect_uri"); got != "https://example.com/auth/discord/callback" {
		t.Errorf("redirect_uri = %q", got)
	}
	if got := q.Get("state"); got != state.State {
		t.Errorf("state param = %q, want the raw token", got)
	}
	if got := q.Get("scope"); got != "identify guilds bot" {
		t.Errorf("scope = %q", got)
	}
	if got := q.Get("permissions"); got != strconv.Itoa(DefaultBotPermissions) {
		t.Errorf("permissions = %q, want %d", got, DefaultBotPermissions)
	}
	if got := q.Get("guild_id"); got != "123456789012345678" {
		t.Errorf("guild_id = %q", got)
	}
	if got := q.Get("disable_guild_select"); got != "true" {
		t.Errorf("disable_guild_select = %q", got)
	}
}

func TestAuthorizationURLWithoutGuild(t *testing.T) {
	t.Parallel()

	flow := NewOAuthFlow("app-id", "app-secret", "https://example.com/cb")
	state, _ := NewOAuthState(StateOptions{}, time.Now())

	parsed, err := url.Parse(flow.AuthorizationURL(state))
	if err != nil {
		t.Fatalf("parse authorization URL: %v", err)
	}
	q := parsed.Query()
	if q.Has("guild_id") || q.Has("disable_guild_select") {
		t.Errorf("guild params present without a pre-selected guild: %v", q)
	}
}

func TestBotInviteURL(t *testing.T) {
	t.Parallel()

	parsed, err := url.Parse(BotInviteURL("app-id", "123456789012345678"))
	if err != nil {
		t.Fatalf("parse invite URL: %v", err)
	}
	q := parsed.Query()
	if got := q.Get("scope"); got != "bot" {
		t.Errorf("scope = %q, want bot", got)
	}
	if got := q.Get("permissions"); got != strconv.Itoa(DefaultBotPermissions) {
		t.Errorf("permissions = %q", got)
	}
	if got := q.Get("guild_id"); got != "123456789012345678" {
		t.Errorf("guild_id = %q", got)
	}
}

func TestTokenSetExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fresh := &TokenSet{ExpiresAt: now.Add(time.Hour)}
	stale := &TokenSet{ExpiresAt: now.Add(-time.Minute)}

	if fresh.Expired(now) {
		t.Error("token expiring in an hour reported expired")
	}
	if !stale.Expired(now) {
		t.Error("expired token reported valid")
	}
}

func TestTokenSetHasScope(t *testing.T) {
	t.Parallel()

	set := &TokenSet{Scopes: []string{"identify", "guilds", "bot"}}
	if !set.HasScope("guilds") {
		t.Error("HasScope(guilds) = false")
	}
	if set.HasScope("email") {
		t.Error("HasScope(email) = true for an ungranted scope")
	}
}

func TestHasManageGuildPermission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		permissions string
		want        bool
	}{
		{"manage guild", strconv.Itoa(PermManageGuild), true},
		{"administrator", strconv.Itoa(PermAdministrator), true},
		{"send messages only", strconv.Itoa(PermSendMessages), false},
		{"empty", "", false},
		{"not a number", "lots", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HasManageGuildPermission(tt.permissions); got != tt.want {
				t.Errorf("HasManageGuildPermission(%q) = %v, want %v", tt.permissions, got, tt.want)
			}
		})
	}
}
