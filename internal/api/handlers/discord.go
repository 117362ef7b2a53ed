package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/feedbacktaker/chatbridge/internal/discord"
	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/logging"
	"github.com/feedbacktaker/chatbridge/internal/notify"
)

// DiscordLogin starts the authorization flow: generate a state, seal it into
// the cookie, and redirect to the platform.
func (h *Handler) DiscordLogin(c *gin.Context) {
	if h.flow == nil {
		respondError(c, errs.New(errs.KindConfiguration, "discord_not_configured", "Discord integration is not configured"))
		return
	}

	state, err := discord.NewOAuthState(discord.StateOptions{
		UserID:   c.Query("userId"),
		ReturnTo: safeReturnTo(c.Query("returnTo")),
		GuildID:  c.Query("guildId"),
	}, time.Now())
	if err != nil {
		log.Errorf("generate oauth state: %v", err)
		respondError(c, errs.Wrap(errs.KindConfiguration, "state_generation_failed", "could not start the authorization flow", err))
		return
	}

	sealed, err := discord.SealState(h.sealer, state)
	if err != nil {
		log.Errorf("seal oauth state: %v", err)
		respondError(c, errs.Wrap(errs.KindConfiguration, "state_generation_failed", "could not start the authorization flow", err))
		return
	}

	http.SetCookie(c.Writer, discord.BuildStateCookie(sealed, h.cfg.Production))
	c.Redirect(http.StatusFound, h.flow.AuthorizationURL(state))
}

// DiscordCallback finishes the flow. The state cookie is cleared on every
// outcome so a state is never reusable; all failures surface to the browser
// as redirect query parameters, not response bodies.
func (h *Handler) DiscordCallback(c *gin.Context) {
	http.SetCookie(c.Writer, discord.ClearStateCookie())
	if h.flow == nil {
		respondError(c, errs.New(errs.KindConfiguration, "discord_not_configured", "Discord integration is not configured"))
		return
	}

	stored, err := discord.ParseStateCookie(c.Request, h.sealer)
	returnTo := "/"
	if stored != nil && stored.ReturnTo != "" {
		returnTo = safeReturnTo(stored.ReturnTo)
	}

	if denied := c.Query("error"); denied != "" {
		log.WithField("platform", "discord").Infof("authorization declined: %s", denied)
		h.redirectWithError(c, returnTo, "access_denied")
		return
	}
	if err != nil {
		h.redirectWithError(c, returnTo, "state_invalid")
		return
	}
	if err = discord.ValidateState(stored, c.Query("state"), time.Now()); err != nil {
		if errs.CodeOf(err) == "state_mismatch" {
			log.WithFields(log.Fields{
				"platform": "discord",
				"event":    "csrf_suspected",
			}).Warn("callback state does not match the stored state")
		}
		// The browser sees one generic failure; the distinction lives in
		// the logs only.
		h.redirectWithError(c, returnTo, "unauthorized")
		return
	}

	tokens, err := h.flow.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		log.Errorf("token exchange failed: %v", err)
		h.redirectWithError(c, returnTo, "exchange_failed")
		return
	}

	user, err := h.userClient.CurrentUser(c.Request.Context(), tokens.AccessToken)
	if err != nil {
		log.Errorf("fetch authorizing user: %v", err)
		h.redirectWithError(c, returnTo, "profile_fetch_failed")
		return
	}

	conn := &discord.Connection{
		UserID:        stored.UserID,
		DiscordUserID: user.ID,
		Username:      user.Username,
		Discriminator: user.Discriminator,
		Avatar:        user.Avatar,
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		ExpiresAt:     tokens.ExpiresAt,
		Scopes:        tokens.Scopes,
		GuildID:       tokens.GuildID,
	}
	if conn.UserID == "" {
		conn.UserID = user.ID
	}
	if err = h.connections.Save(c.Request.Context(), conn); err != nil {
		log.Errorf("save connection: %v", err)
		h.redirectWithError(c, returnTo, "connection_save_failed")
		return
	}

	log.WithFields(log.Fields{
		"platform": "discord",
		"user":     logging.MaskID(user.ID),
	}).Info("account connected")

	q := url.Values{"connected": {"true"}}
	if tokens.GuildID != "" {
		q.Set("guildId", tokens.GuildID)
	}
	c.Redirect(http.StatusFound, returnTo+"?"+q.Encode())
}

// DiscordBotInvite redirects to the plain bot authorization URL.
func (h *Handler) DiscordBotInvite(c *gin.Context) {
	if h.cfg.Discord.ClientID == "" {
		respondError(c, errs.New(errs.KindConfiguration, "discord_not_configured", "Discord integration is not configured"))
		return
	}
	c.Redirect(http.StatusFound, discord.BotInviteURL(h.cfg.Discord.ClientID, c.Query("guildId")))
}

// DiscordGuilds lists the guilds the connected user can configure,
// refreshing the access token proactively when it has expired.
func (h *Handler) DiscordGuilds(c *gin.Context) {
	if h.flow == nil {
		respondError(c, errs.New(errs.KindConfiguration, "discord_not_configured", "Discord integration is not configured"))
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		respondError(c, errs.New(errs.KindValidation, "missing_user", "userId is required"))
		return
	}

	conn, err := h.connections.Get(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if !conn.ExpiresAt.After(time.Now()) {
		tokens, refreshErr := h.flow.Refresh(c.Request.Context(), conn.RefreshToken)
		if refreshErr != nil {
			log.WithField("user", logging.MaskID(userID)).Warnf("token refresh failed: %v", refreshErr)
			respondError(c, errs.New(errs.KindAuthentication, "reconnect_required", "the connection has expired, please reconnect"))
			return
		}
		conn.AccessToken = tokens.AccessToken
		if tokens.RefreshToken != "" {
			conn.RefreshToken = tokens.RefreshToken
		}
		conn.ExpiresAt = tokens.ExpiresAt
		if err = h.connections.Save(c.Request.Context(), conn); err != nil {
			log.Errorf("save refreshed connection: %v", err)
		}
	}

	guilds, err := h.userClient.CurrentUserGuilds(c.Request.Context(), conn.AccessToken)
	if err != nil {
		respondError(c, err)
		return
	}

	manageable := make([]discord.PartialGuild, 0, len(guilds))
	for _, g := range guilds {
		if g.CanManage() {
			manageable = append(manageable, g)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "guilds": manageable})
}

type notifyRequest struct {
	GuildID   string         `json:"guildId"`
	ChannelID string         `json:"channelId"`
	Message   string         `json:"message"`
	Embed     *discord.Embed `json:"embed"`
}

// DiscordNotify posts a notification to a channel: validation failures are
// 400, the local rate limit is 429 with Retry-After, remote failures map
// through the taxonomy.
func (h *Handler) DiscordNotify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.New(errs.KindValidation, "invalid_body", "request body is not valid JSON"))
		return
	}
	if req.GuildID != "" && !discord.IsSnowflake(req.GuildID) {
		respondError(c, errs.New(errs.KindValidation, "invalid_guild", "guildId is not a valid snowflake"))
		return
	}

	sent, err := h.notifier.SendDiscord(c.Request.Context(), req.ChannelID, notify.Notification{
		Content: req.Message,
		Embed:   req.Embed,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "messageId": sent.ID})
}

// redirectWithError sends the browser back with an error query parameter.
func (h *Handler) redirectWithError(c *gin.Context, returnTo, code string) {
	c.Redirect(http.StatusFound, returnTo+"?"+url.Values{"error": {code}}.Encode())
}

// safeReturnTo accepts only local absolute paths, defeating open redirects.
func safeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return "/"
	}
	return raw
}
