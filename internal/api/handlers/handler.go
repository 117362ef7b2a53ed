// Package handlers implements the HTTP surface: Discord OAuth routes, Slack
// webhook routes, and the notification endpoint.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feedbacktaker/chatbridge/internal/config"
	"github.com/feedbacktaker/chatbridge/internal/discord"
	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/notify"
	"github.com/feedbacktaker/chatbridge/internal/secure"
	"github.com/feedbacktaker/chatbridge/internal/slack"
	"github.com/feedbacktaker/chatbridge/internal/store"
)

// Handler carries the wired collaborators for every route.
type Handler struct {
	cfg         *config.Config
	sealer      *secure.Sealer
	flow        *discord.OAuthFlow
	botClient   *discord.Client
	userClient  *discord.Client
	slackClient *slack.Client
	verifier    *slack.Verifier
	notifier    *notify.Service
	connections store.ConnectionStore
}

// NewHandler wires the platform clients from configuration.
func NewHandler(cfg *config.Config, sealer *secure.Sealer, connections store.ConnectionStore) *Handler {
	h := &Handler{
		cfg:         cfg,
		sealer:      sealer,
		connections: connections,
	}
	if cfg.Discord.ClientID != "" {
		h.flow = discord.NewOAuthFlow(cfg.Discord.ClientID, cfg.Discord.ClientSecret, cfg.Discord.RedirectURI)
		// User-token calls carry their own bearer token per request.
		h.userClient = discord.NewClient("")
	}
	var discordSender notify.DiscordSender
	if cfg.Discord.BotToken != "" {
		h.botClient = discord.NewClient(cfg.Discord.BotToken)
		discordSender = h.botClient
	}
	var slackSender notify.SlackSender
	if cfg.Slack.BotToken != "" {
		h.slackClient = slack.NewClient(cfg.Slack.BotToken)
		slackSender = h.slackClient
	}
	if cfg.Slack.SigningSecret != "" {
		h.verifier = slack.NewVerifier(cfg.Slack.SigningSecret)
	}
	h.notifier = notify.NewService(discordSender, slackSender,
		notify.NewRateLimiter(cfg.RateLimitWindow(), cfg.Notify.RateLimitMaxSends))
	return h
}

// RegisterRoutes attaches every route under /api.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/discord/login", h.DiscordLogin)
	api.GET("/discord/callback", h.DiscordCallback)
	api.GET("/discord/bot-invite", h.DiscordBotInvite)
	api.GET("/discord/guilds", h.DiscordGuilds)
	api.POST("/discord/notify", h.DiscordNotify)

	api.POST("/slack/commands", h.SlackCommands)
	api.POST("/slack/interactions", h.SlackInteractions)
}

// respondError maps a taxonomy error onto the response contract. Remote
// payload details never reach the client; the stable code and user-safe
// message do.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "something went wrong"

	var e *errs.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
		switch e.Kind {
		case errs.KindValidation:
			status = http.StatusBadRequest
		case errs.KindAuthentication:
			status = http.StatusUnauthorized
		case errs.KindRateLimited:
			status = http.StatusTooManyRequests
			seconds := int(e.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
		case errs.KindRemoteAPI, errs.KindTransport:
			status = http.StatusBadGateway
		case errs.KindConfiguration:
			status = http.StatusInternalServerError
		}
	}
	c.JSON(status, gin.H{"status": "error", "error": code, "message": message})
}
