// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup:
// without YouTube credentials the process still serves the event stream and
// speech endpoints, it just cannot connect to chat.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Chat providers.
const (
	ProviderYouTube = "youtube"
	ProviderTwitch  = "twitch"
)

type Config struct {
	// HTTP
	HTTPAddr           string `env:"HTTP_ADDR" default:":8080"`
	AdminToken         string `env:"ADMIN_TOKEN"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
	RateLimitEnabled   bool   `env:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_REQUESTS_PER_IP" default:"60"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Chat
	ChannelURL     string        `env:"CHANNEL_URL"`
	ChatProvider   string        `env:"CHAT_PROVIDER" default:"youtube"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" default:"500ms"`
	GraceDelay     time.Duration `env:"GRACE_DELAY" default:"1s"`
	ResolveTimeout time.Duration `env:"RESOLVE_TIMEOUT" default:"10s"`

	// YouTube
	YTAPIKey       string `env:"YT_API_KEY"`
	YTClientID     string `env:"YT_CLIENT_ID"`
	YTClientSecret string `env:"YT_CLIENT_SECRET"`
	YTRefreshToken string `env:"YT_REFRESH_TOKEN"`

	// Twitch
	TwitchBotUsername string `env:"TWITCH_BOT_USERNAME"`
	TwitchOAuthToken  string `env:"TWITCH_OAUTH_TOKEN"`

	// Word lists
	BlacklistPath string `env:"BLACKLIST_PATH" default:"blacklist.txt"`
	SlangPath     string `env:"SLANG_PATH" default:"slang.json"`

	// Speech
	TTSEnabled     bool          `env:"TTS_ENABLED" default:"false"`
	TTSTranslate   bool          `env:"TTS_TRANSLATE" default:"false"`
	TTSToVI        bool          `env:"TTS_TRANSLATE_TO_VI" default:"true"`
	TTSVolume      int           `env:"TTS_VOLUME" default:"100"`
	TTSDefaultLang string        `env:"TTS_DEFAULT_LANG" default:"en"`
	TTSTempDir     string        `env:"TTS_TEMP_DIR"`
	TTSPlayer      string        `env:"TTS_PLAYER" default:"ffplay"`
	TTSPlayerArgs  string        `env:"TTS_PLAYER_ARGS"`
	TTSPollEvery   time.Duration `env:"TTS_POLL_INTERVAL" default:"100ms"`

	// Optional sinks
	ArchiveDSN   string `env:"ARCHIVE_DSN"`
	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" default:"chatcaster:messages"`

	// Tracing
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads a local .env file if present, then environment variables, and
// validates the result. Missing optional credentials disable features rather
// than fail; use ValidateYouTubeReady / ValidateTwitchReady where required.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg.ChatProvider = strings.ToLower(strings.TrimSpace(cfg.ChatProvider))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.ChatProvider {
	case ProviderYouTube, ProviderTwitch:
	default:
		return fmt.Errorf("invalid CHAT_PROVIDER %q: want youtube or twitch", c.ChatProvider)
	}
	if c.TTSVolume < 0 || c.TTSVolume > 100 {
		return fmt.Errorf("TTS_VOLUME must be between 0 and 100, got %d", c.TTSVolume)
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.GraceDelay < 0 {
		return errors.New("GRACE_DELAY must not be negative")
	}
	if c.ResolveTimeout <= 0 {
		return errors.New("RESOLVE_TIMEOUT must be positive")
	}
	if c.RateLimitEnabled && c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS_PER_IP must be positive")
	}
	if c.TTSPollEvery <= 0 {
		return errors.New("TTS_POLL_INTERVAL must be positive")
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ValidateYouTubeReady checks that some form of YouTube credential is present.
func (c *Config) ValidateYouTubeReady() error {
	if c.YTAPIKey != "" {
		return nil
	}
	if c.YTClientID != "" && c.YTClientSecret != "" && c.YTRefreshToken != "" {
		return nil
	}
	return errors.New("missing youtube credentials: set YT_API_KEY or YT_CLIENT_ID, YT_CLIENT_SECRET and YT_REFRESH_TOKEN")
}

// ValidateTwitchReady reports whether the Twitch chat client has credentials.
// Anonymous read-only access is allowed when both are empty.
func (c *Config) ValidateTwitchReady() error {
	if (c.TwitchBotUsername == "") != (c.TwitchOAuthToken == "") {
		return errors.New("twitch credentials incomplete: set both TWITCH_BOT_USERNAME and TWITCH_OAUTH_TOKEN or neither")
	}
	return nil
}
