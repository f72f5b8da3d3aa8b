// Package app wires placebot together: storage, the places provider, the search
// conversation, the Telegram routes and the admin HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/bootstrap"
	coredatabase "github.com/m3rciful/placebot/core/database"
	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/core/netutil"
	coretelegram "github.com/m3rciful/placebot/core/telegram"
	"github.com/m3rciful/placebot/core/telegram/middleware"
	"github.com/m3rciful/placebot/core/telegram/router"
	tgsender "github.com/m3rciful/placebot/core/telegram/sender"
	"github.com/m3rciful/placebot/internal/admin"
	"github.com/m3rciful/placebot/internal/bot"
	"github.com/m3rciful/placebot/internal/broadcast"
	"github.com/m3rciful/placebot/internal/conversation"
	"github.com/m3rciful/placebot/internal/metrics"
	"github.com/m3rciful/placebot/internal/places"
	"github.com/m3rciful/placebot/internal/session"
)

const (
	componentApp     = "app"
	metricsNamespace = "placebot"
	rateLimitedText  = "Too many requests, slow down a little"
)

// App holds the long-lived components built at startup.
type App struct {
	cfg      *Config
	db       *sqlx.DB
	store    session.Store
	metrics  *metrics.Collector
	machine  *conversation.Machine
	handlers *bot.Handlers
	admin    *admin.Server
}

// Bootstrap initializes logging and storage, then builds the application graph.
func Bootstrap(ctx context.Context, cfg *Config) (*App, error) {
	return build(ctx, cfg, bootstrap.Options{})
}

func build(ctx context.Context, cfg *Config, opts bootstrap.Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config provided")
	}
	opts.Config = cfg.CoreConfig()
	if cfg.UsesDatabase() {
		db := cfg.Database
		opts.Database = &db
	}

	res, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		db:      res.DB,
		metrics: metrics.New(metricsNamespace),
	}
	if a.db != nil {
		a.store = session.NewPostgresStore(a.db)
	} else {
		a.store = session.NewMemoryStore()
	}

	client := places.NewClient(cfg.Places.APIKey,
		places.WithBaseURL(cfg.Places.BaseURL),
		places.WithHTTPClient(netutil.BuildHTTPClient(
			netutil.WithTimeout(time.Duration(cfg.Places.TimeoutSeconds)*time.Second),
			netutil.WithRetries(2, 300*time.Millisecond),
			netutil.WithStatusRetry(),
		)),
		places.WithRateLimit(cfg.Places.RatePerSecond),
		places.WithPhotoMaxWidth(cfg.Places.PhotoMaxWidth),
		places.WithBreaker(cfg.Places.BreakerFailures, time.Duration(cfg.Places.BreakerOpenSeconds)*time.Second),
		places.WithMetrics(a.metrics),
	)

	a.machine = conversation.NewMachine(a.store,
		places.NewRanker(client),
		places.NewEnricher(client),
		conversation.Config{
			Radii:         cfg.Bot.Radii,
			DefaultRadius: cfg.Bot.DefaultRadiusMeters,
			Categories:    cfg.Bot.Categories,
			TurnTimeout:   cfg.TurnTimeout(),
		},
		conversation.WithMetrics(a.metrics),
	)
	a.handlers = bot.NewHandlers(a.machine, a.store, nil)

	logger.Info(ctx, componentApp, "bootstrap",
		slog.String("status", "ok"),
		slog.String("storage", cfg.Storage.Driver),
		slog.Int("categories", len(cfg.Bot.Categories)),
		slog.Int("radius_m", cfg.Bot.DefaultRadiusMeters),
	)
	return a, nil
}

// TelegramRunOptions assembles the registry, routes and lifecycle hooks for the bot.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	if err := a.handlers.Register(reg); err != nil {
		return coretelegram.RunOptions{}, fmt.Errorf("app: register handlers: %w", err)
	}

	core := a.cfg.CoreConfig()
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: core.Telegram.AdminID})
	routes = append(routes, router.MessageRoutes(reg, router.MessageOptions{
		UnknownText: a.handlers.UnknownCommand,
	})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))

	return coretelegram.RunOptions{
		Config:      core,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(core, answerRateLimited),
		Routes:      routes,
		DispatcherOptions: tgsender.Options{
			Workers:      a.cfg.Sender.Workers,
			QueueSize:    a.cfg.Sender.QueueSize,
			MaxRetries:   a.cfg.Sender.MaxRetries,
			RetryBackoff: time.Duration(a.cfg.Sender.RetryBackoffMS) * time.Millisecond,
			OnResult:     broadcast.DeliveryObserver(a.metrics),
		},
		OnStart: a.onStart,
		OnStop:  a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, rt coretelegram.Runtime) error {
	middleware.SetUpdateObserver(a.metrics.ObserveUpdate)

	svc := broadcast.NewService(a.store, rt.Bot, rt.Dispatcher, a.metrics)
	a.admin = admin.NewServer(admin.Config{
		Listen: a.cfg.Admin.Listen,
		Token:  a.cfg.Admin.Token,
	}, svc, a.metrics)
	return a.admin.Start(ctx)
}

func (a *App) onStop(ctx context.Context, _ coretelegram.Runtime) error {
	middleware.SetUpdateObserver(nil)

	var errs []error
	if a.admin != nil {
		errs = append(errs, a.admin.Shutdown(ctx))
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func answerRateLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: rateLimitedText})
	}
	return nil
}

// Migrate applies pending schema migrations without starting the bot.
func Migrate(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("app: nil config provided")
	}
	if !cfg.UsesDatabase() {
		return fmt.Errorf("app: storage driver %q has no migrations", cfg.Storage.Driver)
	}
	if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
		return fmt.Errorf("app: logger init failed: %w", err)
	}
	defer func() { _ = logger.Shutdown() }()
	return coredatabase.RunMigrations(ctx, cfg.Database)
}
