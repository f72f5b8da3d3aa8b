package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/placebot/core/config"
	"github.com/m3rciful/placebot/internal/places"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	return &Config{
		Config: coreconfig.Config{
			Telegram: coreconfig.TelegramConfig{Token: "123:abc"},
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Places:  PlacesConfig{APIKey: "key"},
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
storage:
  driver: memory
places:
  api_key: key
bot:
  categories: ["Cafe", " ", "Park"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, coreconfig.RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.False(t, cfg.UsesDatabase())
	assert.Equal(t, places.DefaultBaseURL, cfg.Places.BaseURL)
	assert.Equal(t, 1800, cfg.Bot.DefaultRadiusMeters)
	assert.Equal(t, []int{1000, 3000, 5000, 10000}, cfg.Bot.Radii)
	assert.Equal(t, []string{"Cafe", "Park"}, cfg.Bot.Categories)
	assert.Equal(t, 20, cfg.Bot.TurnTimeoutSeconds)
	assert.Equal(t, ":8000", cfg.Admin.Listen)
	assert.Equal(t, "123:abc", cfg.Admin.Token, "admin token falls back to the bot token")
	assert.Same(t, &cfg.Config, cfg.CoreConfig())
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:env")
	t.Setenv("PLACES_API_KEY", "env-key")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("PORT", "9090")
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("BOT_RADII", "500,2000")

	path := writeConfig(t, `
telegram:
  token: "123:file"
places:
  api_key: file-key
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "999:env", cfg.Telegram.Token)
	assert.Equal(t, "env-key", cfg.Places.APIKey)
	assert.Equal(t, ":9090", cfg.Admin.Listen)
	assert.Equal(t, "secret", cfg.Admin.Token)
	assert.Equal(t, []int{500, 2000}, cfg.Bot.Radii)
}

func TestNormalizeRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"missing api key", func(c *Config) { c.Places.APIKey = " " }},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"postgres without host", func(c *Config) { c.Storage.Driver = StoragePostgres }},
		{"negative radius", func(c *Config) { c.Bot.Radii = []int{1000, -1} }},
		{"negative rate", func(c *Config) { c.Places.RatePerSecond = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Normalize())
		})
	}
}

func TestNormalizePostgresDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Driver = " Postgres "
	cfg.Database.Host = "db"
	cfg.Database.Name = "placebot"

	require.NoError(t, cfg.Normalize())
	assert.True(t, cfg.UsesDatabase())
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)
}

func TestNormalizeKeepsExplicitListen(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.Listen = "127.0.0.1:7000"
	cfg.Admin.Port = 9090

	require.NoError(t, cfg.Normalize())
	assert.Equal(t, "127.0.0.1:7000", cfg.Admin.Listen)
}
