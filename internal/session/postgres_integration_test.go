//go:build integration

package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/m3rciful/placebot/internal/geo"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("placebot"),
		postgres.WithUsername("placebot"),
		postgres.WithPassword("placebot"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	m, err := migrate.New("file://"+filepath.Join(wd, "..", "..", "migrations"), dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	got, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, got)

	s := New(5, "Zed", "zed")
	require.NoError(t, store.Upsert(ctx, &s))
	created := s.CreatedAt

	s.Location = &geo.Point{Lat: 41.31, Lng: 69.28}
	s.Category = "School"
	s.RadiusMeters = 3000
	s.State = StateBrowsing
	s.CreatedAt = time.Time{}
	require.NoError(t, store.Upsert(ctx, &s))

	got, err = store.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateBrowsing, got.State)
	assert.Equal(t, 3000, got.RadiusMeters)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 69.28, got.Location.Lng, 1e-9)
	assert.WithinDuration(t, created, got.CreatedAt, time.Millisecond)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, 5))
	got, err = store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}
