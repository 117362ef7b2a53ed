package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/feedbacktaker/chatbridge/internal/discord"
	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/logging"
	"github.com/feedbacktaker/chatbridge/internal/slack"
)

// DiscordSender is the subset of the Discord client the service needs.
type DiscordSender interface {
	SendMessage(ctx context.Context, channelID string, msg discord.CreateMessageRequest) (*discord.Message, error)
}

// SlackSender is the subset of the Slack client the service needs.
type SlackSender interface {
	PostMessage(ctx context.Context, channelID, fallbackText string, blocks []slack.Block) (*slack.PostMessageResponse, error)
}

// Service delivers notifications to platform channels, enforcing the
// per-channel rate limit and sanitizing rich content before it leaves the
// process.
type Service struct {
	discord DiscordSender
	slack   SlackSender
	limiter *RateLimiter
}

// NewService wires the senders and limiter together. Either sender may be
// nil when the platform is not configured.
func NewService(discordSender DiscordSender, slackSender SlackSender, limiter *RateLimiter) *Service {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultWindow, DefaultMaxSends)
	}
	return &Service{discord: discordSender, slack: slackSender, limiter: limiter}
}

// Notification is one outbound message: plain text, a rich embed, or both.
type Notification struct {
	Content string
	Embed   *discord.Embed
}

// Empty reports whether the notification has nothing to send.
func (n Notification) Empty() bool {
	return n.Content == "" && n.Embed == nil
}

// SendDiscord delivers a notification to a Discord channel. The channel key
// for rate limiting is the channel ID itself.
func (s *Service) SendDiscord(ctx context.Context, channelID string, n Notification) (*discord.Message, error) {
	if s.discord == nil {
		return nil, errs.New(errs.KindConfiguration, "discord_not_configured", "Discord notifications are not configured")
	}
	if n.Empty() {
		return nil, errs.New(errs.KindValidation, "empty_message", "notification must have content or an embed")
	}
	if !discord.IsSnowflake(channelID) {
		return nil, errs.New(errs.KindValidation, "invalid_channel", "channel ID is not a valid snowflake")
	}
	if err := s.allow("discord:" + channelID); err != nil {
		return nil, err
	}

	msg := discord.CreateMessageRequest{Content: n.Content}
	if n.Embed != nil {
		msg.Embeds = []discord.Embed{SanitizeEmbed(*n.Embed)}
	}
	sent, err := s.discord.SendMessage(ctx, channelID, msg)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"platform": "discord",
		"channel":  logging.MaskID(channelID),
	}).Info("notification delivered")
	return sent, nil
}

// SendSlack delivers blocks to a Slack channel under the same rate limit.
func (s *Service) SendSlack(ctx context.Context, channelID, fallbackText string, blocks []slack.Block) error {
	if s.slack == nil {
		return errs.New(errs.KindConfiguration, "slack_not_configured", "Slack notifications are not configured")
	}
	if channelID == "" {
		return errs.New(errs.KindValidation, "missing_channel", "channel ID is required")
	}
	if len(blocks) == 0 && fallbackText == "" {
		return errs.New(errs.KindValidation, "empty_message", "notification must have text or blocks")
	}
	if err := s.allow("slack:" + channelID); err != nil {
		return err
	}

	if _, err := s.slack.PostMessage(ctx, channelID, fallbackText, blocks); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"platform": "slack",
		"channel":  logging.MaskID(channelID),
	}).Info("notification delivered")
	return nil
}

func (s *Service) allow(key string) error {
	ok, retryAfter := s.limiter.Allow(key)
	if ok {
		return nil
	}
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return errs.RateLimited("channel_rate_limited",
		fmt.Sprintf("too many notifications to this channel, retry after %d seconds", seconds),
		time.Duration(seconds)*time.Second)
}

// SanitizeEmbed clamps every embed field to the platform limits and strips
// URLs that are not plain http or https. The input is copied, not mutated.
func SanitizeEmbed(e discord.Embed) discord.Embed {
	e.Title = clamp(e.Title, discord.MaxEmbedTitle)
	e.Description = clamp(e.Description, discord.MaxEmbedDescription)
	e.URL = sanitizeURL(e.URL)

	if e.Footer != nil {
		footer := *e.Footer
		footer.Text = clamp(footer.Text, discord.MaxEmbedFooterText)
		footer.IconURL = sanitizeURL(footer.IconURL)
		e.Footer = &footer
	}
	if e.Author != nil {
		author := *e.Author
		author.Name = clamp(author.Name, discord.MaxEmbedAuthorName)
		author.URL = sanitizeURL(author.URL)
		author.IconURL = sanitizeURL(author.IconURL)
		e.Author = &author
	}
	if e.Image != nil {
		if u := sanitizeURL(e.Image.URL); u != "" {
			e.Image = &discord.EmbedMedia{URL: u}
		} else {
			e.Image = nil
		}
	}
	if e.Thumbnail != nil {
		if u := sanitizeURL(e.Thumbnail.URL); u != "" {
			e.Thumbnail = &discord.EmbedMedia{URL: u}
		} else {
			e.Thumbnail = nil
		}
	}

	if len(e.Fields) > discord.MaxEmbedFields {
		e.Fields = e.Fields[:discord.MaxEmbedFields]
	}
	if len(e.Fields) > 0 {
		fields := make([]discord.EmbedField, len(e.Fields))
		for i, f := range e.Fields {
			fields[i] = discord.EmbedField{
				Name:   clamp(f.Name, discord.MaxEmbedFieldName),
				Value:  clamp(f.Value, discord.MaxEmbedFieldValue),
				Inline: f.Inline,
			}
		}
		e.Fields = fields
	}
	return e
}

func clamp(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// sanitizeURL keeps absolute http/https URLs and drops everything else,
// including javascript: and data: schemes.
func sanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return raw
}

// FeedbackEmbed renders an accepted Slack feedback submission as a Discord
// embed for cross-platform mirroring.
func FeedbackEmbed(submission *slack.FeedbackSubmission) *discord.Embed {
	from := "Anonymous"
	if !submission.Anonymous && submission.UserName != "" {
		from = submission.UserName
	}
	embed := &discord.Embed{
		Title:       "New Feedback: " + slack.CategoryLabel(string(submission.Category)),
		Description: submission.Message,
		Timestamp:   submission.CreatedAt.UTC().Format(time.RFC3339),
		Footer:      &discord.EmbedFooter{Text: "Reference " + submission.ID},
		Fields: []discord.EmbedField{
			{Name: "From", Value: from, Inline: true},
		},
	}
	if submission.Email != "" {
		embed.Fields = append(embed.Fields, discord.EmbedField{Name: "Follow-up", Value: submission.Email, Inline: true})
	}
	return embed
}
