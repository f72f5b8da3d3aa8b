// Package logger writes placebot's structured logs: one flat line per event,
// KV or JSON, keyed by component and event and fanned out to stdout plus an
// optional file.
package logger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/m3rciful/placebot/core/buildinfo"
	coreconfig "github.com/m3rciful/placebot/core/config"
)

const (
	defaultSampleNum = 1
	defaultSampleDen = 50
)

var (
	initOnce sync.Once
	base     atomic.Pointer[slog.Logger]
	levelVar slog.LevelVar

	sinksMu sync.Mutex
	sinks   *outputs

	debugSampler = newRatioSampler(defaultSampleNum, defaultSampleDen)
	traceAll     atomic.Bool
)

type outputs struct {
	writer  *asyncWriter
	closers []io.Closer
}

// settings is the logging section after defaults are applied.
type settings struct {
	format    logFormat
	level     slog.Level
	keyOrder  []string
	sampleNum int
	sampleDen int
	profile   string
	filePath  string
}

var levelNames = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func resolveSettings(cfg *coreconfig.Config) settings {
	s := settings{
		format:    formatJSON,
		level:     slog.LevelInfo,
		keyOrder:  slices.Clone(defaultKeyOrder),
		sampleNum: defaultSampleNum,
		sampleDen: defaultSampleDen,
	}
	if cfg == nil {
		return s
	}
	lc := cfg.Logging
	s.profile = cmp.Or(strings.ToLower(strings.TrimSpace(lc.Profile)), "prod")

	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		s.format = formatKV
	case "json":
	default:
		if s.profile == "debug" || s.profile == "dev" {
			s.format = formatKV
		}
	}
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(lc.Level))]; ok {
		s.level = lvl
	}
	if keys := splitKeys(lc.KeysOrder); len(keys) > 0 {
		s.keyOrder = keys
	}
	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		// An unparseable spec disables sampling; a non-positive ratio keeps the default.
		switch num, den := parseRatioSpec(spec); {
		case num == 0 && den == 0:
			s.sampleNum, s.sampleDen = 0, 0
		case num > 0 && den > 0:
			s.sampleNum, s.sampleDen = num, den
		}
	}
	if dir, file := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.BotFile); dir != "" && file != "" {
		s.filePath = filepath.Join(dir, file)
	}
	return s
}

// splitKeys parses logging.keys_order. "default" and blank lists yield nil.
func splitKeys(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "default" {
		return nil
	}
	var keys []string
	for key := range strings.SplitSeq(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// InitLogger installs the process logger from cfg. Only the first call has effect.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() { err = install(resolveSettings(cfg)) })
	return err
}

func install(s settings) error {
	out, err := openOutputs(s.filePath)
	if err != nil {
		return err
	}
	levelVar.Set(s.level)
	debugSampler.Set(s.sampleNum, s.sampleDen)
	traceAll.Store(envFlag("TRACE") || envFlag("LOG_TRACE"))

	l := slog.New(newStructuredHandler(handlerConfig{
		level:    &levelVar,
		writer:   out.writer,
		format:   s.format,
		keyOrder: s.keyOrder,
	}))
	sinksMu.Lock()
	sinks = out
	sinksMu.Unlock()
	base.Store(l)
	slog.SetDefault(l)

	Info(context.Background(), "app", "startup",
		slog.String("version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("go_version", runtime.Version()),
		slog.String("cfg_profile", s.profile),
	)
	return nil
}

func openOutputs(path string) (*outputs, error) {
	out := &outputs{}
	writers := []io.Writer{os.Stdout}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("logger: create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file: %w", err)
		}
		writers = append(writers, f)
		out.closers = append(out.closers, f)
	}
	out.writer = newAsyncWriter(writers, 64*1024)
	return out, nil
}

// Shutdown drains queued lines and closes the log file. Later calls are no-ops.
func Shutdown() error {
	sinksMu.Lock()
	out := sinks
	sinks = nil
	sinksMu.Unlock()
	if out == nil {
		return nil
	}
	errs := []error{out.writer.Close()}
	for _, c := range out.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// componentLogger returns the process logger tagged with component, or nil before InitLogger.
func componentLogger(name string) *slog.Logger {
	l := base.Load()
	if l == nil {
		return nil
	}
	if name = strings.TrimSpace(name); name != "" {
		return l.With("component", name)
	}
	return l
}

// Log writes one event for component. Request metadata is read from ctx.
// It does nothing before InitLogger.
func Log(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	l := componentLogger(component)
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	l.LogAttrs(ctx, level, "", attrs...)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug gates debug detail on hot paths. TRACE or LOG_TRACE lets every event through.
func ShouldSampleDebug() bool {
	return traceAll.Load() || debugSampler.Allow()
}

func envFlag(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
