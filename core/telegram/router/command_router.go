package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/placebot/core/logger"
	tg "github.com/m3rciful/placebot/core/telegram"
	"github.com/m3rciful/placebot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures admin gating for commands.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes returns one route per registered command. Admin-only commands are
// gated by AdminID before their handler runs.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}
	gate := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	cmds := reg.Commands()
	routes := make([]tg.Route, 0, len(cmds))
	for endpoint, def := range cmds {
		name := normalizeHandlerName(endpoint)
		inner := def.Handler
		if def.AdminOnly {
			inner = gate(inner)
		}
		routes = append(routes, tg.Route{
			Endpoint: endpoint,
			Handler: middleware.RecoverMiddleware(middleware.LoggerMiddleware(func(c tele.Context) error {
				return newSummary(name, time.Now()).run(c, inner)
			})),
		})
	}

	logger.Info(context.Background(), "tg.wire", "complete",
		slog.Int("commands", len(cmds)),
		slog.Int("callbacks", len(reg.CallbackKeys())),
	)
	return routes
}
