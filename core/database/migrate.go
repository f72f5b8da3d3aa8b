package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/placebot/core/logger"
)

const (
	readyTimeout = 30 * time.Second
	previewFiles = 6
)

// RunMigrations waits for the server, then applies every pending up migration
// from cfg.MigrationsPath. An up-to-date schema is not an error.
func RunMigrations(ctx context.Context, cfg Config) error {
	cfg.Normalize()

	if err := waitForPostgres(ctx, cfg.DSN(), readyTimeout); err != nil {
		migrateFailed(ctx, "db.wait", err)
		return fmt.Errorf("database not ready: %w", err)
	}
	dir, err := resolveMigrationsPath(cfg.MigrationsPath)
	if err != nil {
		migrateFailed(ctx, "resolve", err)
		return err
	}
	files := listMigrationFiles(dir)
	logger.Debug(ctx, "db.migrate", "resolve", append(fileAttrs(files), slog.String("path", dir))...)

	m, err := migrate.New("file://"+dir, cfg.URL())
	if err != nil {
		migrateFailed(ctx, "init", err)
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	from, _, _ := m.Version()
	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		migrateFailed(ctx, "apply", err, slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("migration execution failed: %w", err)
	}
	took := time.Since(start)
	to, _, _ := m.Version()

	applied := selectApplied(files, uint64(from), uint64(to))
	if len(applied) > 0 {
		logger.Debug(ctx, "db.migrate", "apply", fileAttrs(applied)...)
	}
	logger.Info(ctx, "db.migrate", "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

func migrateFailed(ctx context.Context, event string, err error, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("status", "fail"), slog.String("err", err.Error())}, extra...)
	logger.Error(ctx, "db.migrate", event, attrs...)
}

// fileAttrs summarizes a migration file list without logging every name.
func fileAttrs(files []string) []slog.Attr {
	attrs := []slog.Attr{slog.Int("files_total", len(files))}
	preview, truncated := logger.SummarizeStrings(files, previewFiles)
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

// resolveMigrationsPath anchors a relative path at the working directory.
func resolveMigrationsPath(path string) (string, error) {
	if path == "" {
		path = DefaultMigrationsPath
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, path), nil
}

// listMigrationFiles returns the sorted base names of the up migrations in dir.
func listMigrationFiles(dir string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	slices.Sort(names)
	return names
}

// selectApplied keeps files whose numeric version prefix lies in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		prefix, _, _ := strings.Cut(f, "_")
		if v, err := strconv.ParseUint(prefix, 10, 64); err == nil && v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
