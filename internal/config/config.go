// Package config loads and validates the application configuration from a
// YAML file with environment-variable overrides for secrets.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feedbacktaker/chatbridge/internal/errs"
)

// DiscordConfig holds the Discord application credentials and defaults.
type DiscordConfig struct {
	// ClientID is the OAuth2 application client ID.
	ClientID string `yaml:"client-id"`

	// ClientSecret is the OAuth2 application client secret.
	ClientSecret string `yaml:"client-secret"`

	// RedirectURI is the OAuth2 callback URL registered with Discord.
	RedirectURI string `yaml:"redirect-uri"`

	// BotToken authenticates bot API calls (message sends, channel reads).
	BotToken string `yaml:"bot-token"`

	// StateKey is an optional hex-encoded 32-byte key for sealing OAuth
	// state cookies. When empty, a key is derived from ClientSecret; that
	// fallback is for local development only.
	StateKey string `yaml:"state-key"`

	// FeedbackChannelID is the default channel for feedback notifications.
	FeedbackChannelID string `yaml:"feedback-channel-id"`
}

// SlackConfig holds the Slack application credentials and defaults.
type SlackConfig struct {
	// SigningSecret verifies inbound webhook request signatures.
	SigningSecret string `yaml:"signing-secret"`

	// BotToken is the workspace bot token (xoxb-...).
	BotToken string `yaml:"bot-token"`

	// FeedbackChannelID is the channel feedback notifications go to.
	FeedbackChannelID string `yaml:"feedback-channel-id"`
}

// NotifyConfig tunes the local per-channel send rate limit.
type NotifyConfig struct {
	// RateLimitWindowSeconds is the fixed window length. Default 60.
	RateLimitWindowSeconds int `yaml:"rate-limit-window-seconds"`

	// RateLimitMaxSends is the per-channel quota per window. Default 30.
	RateLimitMaxSends int `yaml:"rate-limit-max-sends"`
}

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// BaseURL is the externally reachable base URL, used for redirects.
	BaseURL string `yaml:"base-url"`

	// Production toggles production behavior such as Secure cookies.
	Production bool `yaml:"production"`

	// LoggingToFile writes logs to a rotated file instead of stdout only.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogDir is the directory for rotated log files.
	LogDir string `yaml:"log-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	Discord DiscordConfig `yaml:"discord"`
	Slack   SlackConfig   `yaml:"slack"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// envOverrides maps environment variable names to config field setters.
// Secrets are conventionally provided through the environment rather than
// the YAML file.
func (c *Config) applyEnvOverrides() {
	set := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	set("BASE_URL", &c.BaseURL)
	set("DISCORD_CLIENT_ID", &c.Discord.ClientID)
	set("DISCORD_CLIENT_SECRET", &c.Discord.ClientSecret)
	set("DISCORD_REDIRECT_URI", &c.Discord.RedirectURI)
	set("DISCORD_BOT_TOKEN", &c.Discord.BotToken)
	set("DISCORD_STATE_ENCRYPTION_KEY", &c.Discord.StateKey)
	set("DISCORD_FEEDBACK_CHANNEL_ID", &c.Discord.FeedbackChannelID)
	set("SLACK_SIGNING_SECRET", &c.Slack.SigningSecret)
	set("SLACK_BOT_TOKEN", &c.Slack.BotToken)
	set("SLACK_FEEDBACK_CHANNEL_ID", &c.Slack.FeedbackChannelID)
}

// LoadConfig reads, parses, and validates the configuration file.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "config_unreadable", "failed to read config file", err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "config_invalid", "failed to parse config file", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.Notify.RateLimitWindowSeconds <= 0 {
		c.Notify.RateLimitWindowSeconds = 60
	}
	if c.Notify.RateLimitMaxSends <= 0 {
		c.Notify.RateLimitMaxSends = 30
	}
}

// Validate checks that every credential required at startup is present and
// well-formed. Missing secrets are configuration errors, fatal at startup.
func (c *Config) Validate() error {
	if c.Discord.ClientID == "" {
		return errs.New(errs.KindConfiguration, "missing_credential", "discord client-id is not configured")
	}
	if c.Discord.ClientSecret == "" {
		return errs.New(errs.KindConfiguration, "missing_credential", "discord client-secret is not configured")
	}
	if c.Discord.RedirectURI == "" {
		return errs.New(errs.KindConfiguration, "missing_credential", "discord redirect-uri is not configured")
	}
	if c.Discord.BotToken == "" {
		return errs.New(errs.KindConfiguration, "missing_credential", "discord bot-token is not configured")
	}
	if c.Slack.SigningSecret == "" {
		return errs.New(errs.KindConfiguration, "missing_credential", "slack signing-secret is not configured")
	}
	if c.Slack.BotToken == "" {
		return errs.New(errs.KindConfiguration, "missing_credential", "slack bot-token is not configured")
	}
	if c.Discord.StateKey != "" {
		key, err := hex.DecodeString(c.Discord.StateKey)
		if err != nil || len(key) != 32 {
			return errs.New(errs.KindConfiguration, "invalid_state_key", "discord state-key must be 32 bytes hex-encoded")
		}
	}
	return nil
}

// StateSealerKey returns the explicit state key bytes, or nil when the
// SHA-256 derivation fallback from the client secret should be used.
func (c *Config) StateSealerKey() []byte {
	if c.Discord.StateKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Discord.StateKey)
	if err != nil {
		return nil
	}
	return key
}

// RateLimitWindow returns the notify rate-limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Notify.RateLimitWindowSeconds) * time.Second
}

func (c *Config) String() string {
	return fmt.Sprintf("port=%d production=%v debug=%v", c.Port, c.Production, c.Debug)
}
