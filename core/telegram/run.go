package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	coreconfig "github.com/m3rciful/placebot/core/config"
	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/core/netutil"
	tghelpers "github.com/m3rciful/placebot/core/telegram/helpers"
	tgsender "github.com/m3rciful/placebot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const stopTimeout = 10 * time.Second

// Middleware is a named global middleware, installed in slice order.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds Handler to a telebot endpoint (a command, tele.OnText, a callback unique).
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions describes one bot run.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	DispatcherOptions tgsender.Options

	// HTTPClient talks to the Bot API; nil builds one whose timeout covers a long poll.
	HTTPClient *http.Client

	Middlewares []Middleware
	Routes      []Route

	// KeepWebhook skips deleteWebhook before long polling.
	KeepWebhook bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is what lifecycle hooks get to work with.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram builds the bot and serves updates until ctx is done. OnStop runs
// with a fresh deadline after the poller stops, then the dispatcher drains.
// Cancelling ctx is a clean exit.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return errors.New("telegram: nil config provided")
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	po := pollerOptionsFrom(opts.Config)
	built := time.Now()
	bot, err := newBot(opts.Config.Telegram.Token, po, opts.HTTPClient)
	if err != nil {
		return err
	}
	logMode(ctx, bot.Poller, po, time.Since(built))
	if _, polling := bot.Poller.(*tele.LongPoller); polling && !opts.KeepWebhook {
		dropWebhook(ctx, bot)
	}
	wire(bot, reg, opts)

	rt := Runtime{Bot: bot, Dispatcher: tgsender.NewDispatcher(opts.DispatcherOptions), Registry: reg}
	defer rt.Dispatcher.Close()

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}
	runErr := serve(ctx, bot)
	if opts.OnStop != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := opts.OnStop(stopCtx, rt); err != nil {
			return err
		}
	}
	return runErr
}

func pollerOptionsFrom(cfg *coreconfig.Config) PollerOptions {
	return PollerOptions{
		RunMode:                cfg.Telegram.RunMode,
		LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
		Webhook: WebhookOptions{
			Listen: cfg.Webhook.Listen,
			Port:   cfg.Webhook.Port,
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
		},
	}
}

func newBot(token string, po PollerOptions, client *http.Client) (*tele.Bot, error) {
	if client == nil {
		client = netutil.BuildHTTPClient(netutil.WithResponseTimeout(po.pollTimeout() + 10*time.Second))
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Poller:  BuildPoller(po),
		Client:  client,
		OnError: reportHandlerError,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	return bot, nil
}

func reportHandlerError(err error, c tele.Context) {
	ctx, ok := tghelpers.ContextFrom(c)
	if !ok {
		ctx = context.Background()
	}
	logger.Error(ctx, "tg", "handler.error", slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
}

func logMode(ctx context.Context, p tele.Poller, po PollerOptions, took time.Duration) {
	attrs := []slog.Attr{slog.Duration("duration", took)}
	if wh, ok := p.(*tele.Webhook); ok {
		attrs = append(attrs,
			slog.String("mode", RunModeWebhook),
			slog.String("listen", wh.Listen),
			slog.String("public_url", wh.Endpoint.PublicURL),
		)
	} else {
		attrs = append(attrs,
			slog.String("mode", RunModeLongpoll),
			slog.Int("timeout_seconds", int(po.pollTimeout()/time.Second)),
		)
	}
	logger.Info(ctx, "tg", "mode", attrs...)
}

// dropWebhook clears a webhook left by an earlier run; getUpdates is refused while one is set.
func dropWebhook(ctx context.Context, bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.Warn(ctx, "tg", "webhook.delete",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	logger.Info(ctx, "tg", "webhook.delete", slog.String("status", "ok"))
}

func wire(bot *tele.Bot, reg *Registry, opts RunOptions) {
	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
		}
	}
	SetupCommands(bot, reg)
}

// serve runs the poller until ctx is done or the bot stops by itself.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bot.Stop()
		<-done
	}
	if err := ctx.Err(); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
