package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/placebot/core/config"
	coredatabase "github.com/m3rciful/placebot/core/database"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunWithoutDatabase(t *testing.T) {
	called := false
	res, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: noLogger,
		Connect: func(context.Context, coredatabase.Config) (*sqlx.DB, error) {
			called = true
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res.DB)
	assert.False(t, called)
}

func TestRunMigratesBeforeConnecting(t *testing.T) {
	var order []string
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Database:   &coredatabase.Config{Name: "places"},
		LoggerInit: noLogger,
		Migrate: func(_ context.Context, cfg coredatabase.Config) error {
			order = append(order, "migrate:"+cfg.Name)
			return nil
		},
		Connect: func(_ context.Context, cfg coredatabase.Config) (*sqlx.DB, error) {
			order = append(order, "connect:"+cfg.Name)
			return &sqlx.DB{}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"migrate:places", "connect:places"}, order)
}

func TestRunStopsOnMigrationFailure(t *testing.T) {
	connected := false
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Database:   &coredatabase.Config{},
		LoggerInit: noLogger,
		Migrate:    func(context.Context, coredatabase.Config) error { return errors.New("dirty") },
		Connect: func(context.Context, coredatabase.Config) (*sqlx.DB, error) {
			connected = true
			return nil, nil
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrations failed")
	assert.False(t, connected)
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)
}
