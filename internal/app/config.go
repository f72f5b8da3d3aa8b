package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/placebot/core/config"
	coredatabase "github.com/m3rciful/placebot/core/database"
	"github.com/m3rciful/placebot/internal/places"
	"github.com/m3rciful/placebot/internal/session"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	defaultAdminListen = ":8000"
)

// Config is the full placebot configuration: the core settings plus everything the
// search conversation, the places provider and the admin surface need.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Storage  StorageConfig       `yaml:"storage"`
	Places   PlacesConfig        `yaml:"places"`
	Bot      BotConfig           `yaml:"bot"`
	Admin    AdminConfig         `yaml:"admin"`
	Sender   SenderConfig        `yaml:"sender"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
}

type PlacesConfig struct {
	APIKey             string  `yaml:"api_key" envconfig:"PLACES_API_KEY"`
	BaseURL            string  `yaml:"base_url" envconfig:"PLACES_BASE_URL"`
	TimeoutSeconds     int     `yaml:"timeout_seconds" envconfig:"PLACES_TIMEOUT_SECONDS"`
	RatePerSecond      float64 `yaml:"rate_per_second" envconfig:"PLACES_RATE_PER_SECOND"`
	PhotoMaxWidth      int     `yaml:"photo_max_width" envconfig:"PLACES_PHOTO_MAX_WIDTH"`
	BreakerFailures    uint32  `yaml:"breaker_failures" envconfig:"PLACES_BREAKER_FAILURES"`
	BreakerOpenSeconds int     `yaml:"breaker_open_seconds" envconfig:"PLACES_BREAKER_OPEN_SECONDS"`
}

type BotConfig struct {
	DefaultRadiusMeters int      `yaml:"default_radius_meters" envconfig:"BOT_DEFAULT_RADIUS_METERS"`
	Radii               []int    `yaml:"radii" envconfig:"BOT_RADII"`
	Categories          []string `yaml:"categories" envconfig:"BOT_CATEGORIES"`
	TurnTimeoutSeconds  int      `yaml:"turn_timeout_seconds" envconfig:"BOT_TURN_TIMEOUT_SECONDS"`
}

// AdminConfig configures the admin HTTP server. Port mirrors the PORT variable
// set by most hosting platforms and is used when Listen is empty.
type AdminConfig struct {
	Listen string `yaml:"listen" envconfig:"ADMIN_LISTEN"`
	Port   int    `yaml:"port" envconfig:"PORT"`
	Token  string `yaml:"token" envconfig:"ADMIN_TOKEN"`
}

type SenderConfig struct {
	Workers        int `yaml:"workers" envconfig:"SENDER_WORKERS"`
	QueueSize      int `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	MaxRetries     int `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" envconfig:"SENDER_RETRY_BACKOFF_MS"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// UsesDatabase reports whether sessions are kept in Postgres.
func (c *Config) UsesDatabase() bool {
	return c.Storage.Driver == StoragePostgres
}

// TurnTimeout returns the per-turn deadline.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Bot.TurnTimeoutSeconds) * time.Second
}

// Load reads the YAML file at path, overlays the environment and normalizes the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", StoragePostgres:
		c.Storage.Driver = StoragePostgres
	case StorageMemory:
		c.Storage.Driver = d
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: postgres, memory", c.Storage.Driver)
	}
	if c.UsesDatabase() {
		c.Database.Normalize()
		if strings.TrimSpace(c.Database.Host) == "" || strings.TrimSpace(c.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres storage driver")
		}
	}

	if strings.TrimSpace(c.Places.APIKey) == "" {
		return fmt.Errorf("places.api_key is required")
	}
	if strings.TrimSpace(c.Places.BaseURL) == "" {
		c.Places.BaseURL = places.DefaultBaseURL
	}
	if c.Places.TimeoutSeconds <= 0 {
		c.Places.TimeoutSeconds = int(places.DefaultTimeout / time.Second)
	}
	if c.Places.RatePerSecond < 0 {
		return fmt.Errorf("places.rate_per_second must be >= 0")
	}
	if c.Places.RatePerSecond == 0 {
		c.Places.RatePerSecond = places.DefaultRatePerSecond
	}
	if c.Places.PhotoMaxWidth <= 0 {
		c.Places.PhotoMaxWidth = places.DefaultPhotoMaxWidth
	}
	if c.Places.BreakerFailures == 0 {
		c.Places.BreakerFailures = 5
	}
	if c.Places.BreakerOpenSeconds <= 0 {
		c.Places.BreakerOpenSeconds = 30
	}

	if len(c.Bot.Radii) == 0 {
		c.Bot.Radii = []int{1000, 3000, 5000, 10000}
	}
	for _, r := range c.Bot.Radii {
		if r <= 0 {
			return fmt.Errorf("bot.radii must be positive, got %d", r)
		}
	}
	if c.Bot.DefaultRadiusMeters <= 0 {
		c.Bot.DefaultRadiusMeters = session.DefaultRadiusMeters
	}
	cats := c.Bot.Categories[:0]
	for _, name := range c.Bot.Categories {
		if name = strings.TrimSpace(name); name != "" {
			cats = append(cats, name)
		}
	}
	c.Bot.Categories = cats
	if len(c.Bot.Categories) == 0 {
		c.Bot.Categories = []string{"Food", "Supermarket", "School", "Pharmacy"}
	}
	if c.Bot.TurnTimeoutSeconds <= 0 {
		c.Bot.TurnTimeoutSeconds = 20
	}

	if strings.TrimSpace(c.Admin.Listen) == "" {
		c.Admin.Listen = defaultAdminListen
		if c.Admin.Port > 0 {
			c.Admin.Listen = ":" + strconv.Itoa(c.Admin.Port)
		}
	}
	if c.Admin.Token == "" {
		c.Admin.Token = c.Telegram.Token
	}

	if c.Sender.Workers <= 0 {
		c.Sender.Workers = 4
	}
	if c.Sender.QueueSize <= 0 {
		c.Sender.QueueSize = 256
	}
	if c.Sender.MaxRetries < 0 {
		c.Sender.MaxRetries = 0
	}
	if c.Sender.RetryBackoffMS <= 0 {
		c.Sender.RetryBackoffMS = 500
	}
	return nil
}
