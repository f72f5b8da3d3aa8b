package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig identifies the bot and chooses how updates arrive.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN" validate:"required"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE" validate:"oneof=webhook longpoll"`
	// LongPollTimeoutSeconds is the getUpdates timeout; 0 keeps the poller default.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS" validate:"gte=0"`
}

// WebhookConfig is only checked when telegram.run_mode is webhook.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL" validate:"required,http_url"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN" validate:"required"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT" validate:"gt=0,lte=65535"`
	Secret string `yaml:"secret" envconfig:"WEBHOOK_SECRET"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig spaces out updates per user. Update kinds listed in
// ExcludeUpdates (callback, message, inline_query) are never delayed.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS" validate:"gte=0"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES" validate:"dive,oneof=callback message inline_query"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook" validate:"-"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads the core configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile fills dst from the YAML file at path, then overlays environment
// variables. Variables from a .env file in the working directory are loaded
// first and never override ones already set. An empty path skips the YAML step.
func LoadFile(path string, dst any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

var validate = newValidator()

// newValidator reports fields by their YAML names so errors point at the config file.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize canonicalizes run mode and update kinds, then validates cfg.
// Webhook settings are validated only in webhook mode.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}

	switch mode := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode)); mode {
	case "", "polling":
		cfg.Telegram.RunMode = RunModeLongpoll
	default:
		cfg.Telegram.RunMode = mode
	}
	for i, kind := range cfg.RateLimit.ExcludeUpdates {
		cfg.RateLimit.ExcludeUpdates[i] = strings.ToLower(strings.TrimSpace(kind))
	}
	cfg.RateLimit.ExcludeUpdates = slices.DeleteFunc(cfg.RateLimit.ExcludeUpdates, func(kind string) bool {
		return kind == ""
	})

	if err := validate.Struct(cfg); err != nil {
		return describe(err, "")
	}
	if cfg.Telegram.RunMode == RunModeWebhook {
		if err := validate.Struct(&cfg.Webhook); err != nil {
			return describe(err, "webhook.")
		}
	}
	return nil
}

// describe turns validator errors into messages keyed by YAML path.
func describe(err error, prefix string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		path = prefix + path
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, path+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("invalid %s value %q; allowed: %s",
				path, fmt.Sprint(fe.Value()), strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "http_url":
			msgs = append(msgs, path+" must be an http(s) URL")
		default:
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", path, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
