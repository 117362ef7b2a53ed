// Package discord implements the Discord side of the integration: the OAuth2
// flow controller with sealed state cookies, the bot/user API clients with
// rate-limit retry and error normalization, and the message/embed types.
package discord

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// API endpoints.
const (
	APIBase           = "https://discord.com/api/v10"
	OAuthAuthorizeURL = "https://discord.com/oauth2/authorize"
	OAuthTokenURL     = "https://discord.com/api/oauth2/token"
	OAuthRevokeURL    = "https://discord.com/api/oauth2/token/revoke"
)

// DefaultOAuthScopes are requested on every authorization:
// identify to link accounts, guilds to pick where to post, bot to add the bot.
var DefaultOAuthScopes = []string{"identify", "guilds", "bot"}

// Bot permission bits.
const (
	PermViewChannel        = 1 << 10
	PermSendMessages       = 1 << 11
	PermEmbedLinks         = 1 << 14
	PermAttachFiles        = 1 << 15
	PermReadMessageHistory = 1 << 16

	// PermManageGuild and PermAdministrator gate which guilds a user may
	// configure.
	PermManageGuild   = 1 << 5
	PermAdministrator = 1 << 3
)

// DefaultBotPermissions is the permission bitmask requested for the bot:
// View Channel, Send Messages, Embed Links.
const DefaultBotPermissions = PermViewChannel | PermSendMessages | PermEmbedLinks

// Message limits enforced locally before any network round trip.
const (
	MaxContentLength     = 2000
	MaxEmbeds            = 10
	MaxEmbedTitle        = 256
	MaxEmbedDescription  = 4096
	MaxEmbedFields       = 25
	MaxEmbedFieldName    = 256
	MaxEmbedFieldValue   = 1024
	MaxEmbedFooterText   = 2048
	MaxEmbedAuthorName   = 256
)

// snowflakeRe matches Discord IDs: numeric strings of 17-20 digits.
var snowflakeRe = regexp.MustCompile(`^\d{17,20}$`)

// IsSnowflake reports whether s is a well-formed Discord snowflake ID.
func IsSnowflake(s string) bool {
	return snowflakeRe.MatchString(s)
}

// ChannelType enumerates the channel kinds this integration cares about.
type ChannelType int

const (
	ChannelGuildText         ChannelType = 0
	ChannelGuildVoice        ChannelType = 2
	ChannelGuildCategory     ChannelType = 4
	ChannelGuildAnnouncement ChannelType = 5
)

// User is the Discord user object subset returned by /users/@me.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
}

// AvatarURL builds the CDN URL for a user's avatar, falling back to a
// default avatar when none is set.
func (u User) AvatarURL() string {
	if u.Avatar != "" {
		ext := "png"
		if len(u.Avatar) > 2 && u.Avatar[:2] == "a_" {
			ext = "gif"
		}
		return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.%s", u.ID, u.Avatar, ext)
	}
	// Post-discriminator accounts hash on the user ID.
	idx := 0
	if u.Discriminator == "0" || u.Discriminator == "" {
		if id, err := strconv.ParseUint(u.ID, 10, 64); err == nil {
			idx = int((id >> 22) % 6)
		}
	} else if d, err := strconv.Atoi(u.Discriminator); err == nil {
		idx = d % 5
	}
	return fmt.Sprintf("https://cdn.discordapp.com/embed/avatars/%d.png", idx)
}

// PartialGuild is the guild subset returned by /users/@me/guilds.
type PartialGuild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Owner       bool   `json:"owner"`
	Permissions string `json:"permissions"`
}

// CanManage reports whether the user may configure this guild: they own it
// or hold Manage Guild or Administrator.
func (g PartialGuild) CanManage() bool {
	if g.Owner {
		return true
	}
	return HasManageGuildPermission(g.Permissions)
}

// HasManageGuildPermission tests the MANAGE_GUILD and ADMINISTRATOR bits in
// a stringified permission integer.
func HasManageGuildPermission(permissions string) bool {
	perms, err := strconv.ParseInt(permissions, 10, 64)
	if err != nil {
		return false
	}
	return perms&PermManageGuild != 0 || perms&PermAdministrator != 0
}

// Channel is the channel subset returned by channel endpoints.
type Channel struct {
	ID       string      `json:"id"`
	Type     ChannelType `json:"type"`
	GuildID  string      `json:"guild_id"`
	Name     string      `json:"name"`
	Position int         `json:"position"`
}

// Sendable reports whether the bot can post plain messages to this channel.
func (c Channel) Sendable() bool {
	return c.Type == ChannelGuildText || c.Type == ChannelGuildAnnouncement
}

// Embed is a rich message card. Field lengths are clamped by
// notify.SanitizeEmbed before sending.
type Embed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Color       int            `json:"color,omitempty"`
	Footer      *EmbedFooter   `json:"footer,omitempty"`
	Image       *EmbedMedia    `json:"image,omitempty"`
	Thumbnail   *EmbedMedia    `json:"thumbnail,omitempty"`
	Author      *EmbedAuthor   `json:"author,omitempty"`
	Fields      []EmbedField   `json:"fields,omitempty"`
}

// EmbedFooter is the footer line of an embed.
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedMedia is an image or thumbnail reference.
type EmbedMedia struct {
	URL string `json:"url"`
}

// EmbedAuthor is the author header of an embed.
type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedField is a single name/value pair in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// CreateMessageRequest is the body of POST /channels/{id}/messages.
type CreateMessageRequest struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Empty reports whether the message has neither text nor rich content.
func (r CreateMessageRequest) Empty() bool {
	return r.Content == "" && len(r.Embeds) == 0
}

// Message is the created-message subset the caller needs back.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// APIError is Discord's structured error body: a numeric code plus message.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Connection links a local user to a Discord account plus an optional
// notification target. The core shapes this object; persistence belongs to
// the caller's store.
type Connection struct {
	UserID        string    `json:"userId"`
	DiscordUserID string    `json:"discordUserId"`
	Username      string    `json:"discordUsername"`
	Discriminator string    `json:"discordDiscriminator"`
	Avatar        string    `json:"discordAvatar,omitempty"`
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Scopes        []string  `json:"scopes"`
	GuildID       string    `json:"guildId,omitempty"`
	ChannelID     string    `json:"channelId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
