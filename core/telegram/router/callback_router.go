package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/placebot/core/telegram"
	"github.com/m3rciful/placebot/core/telegram/callbacks"
	"github.com/m3rciful/placebot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions sets the handler for callbacks no registered control claims.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute decodes the control carried by a callback and routes it to the
// handler registered for the control's unique key. Handlers answer the callback
// themselves.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		start := time.Now()

		key := "unknown"
		if ctl, err := callbacks.FromCallback(cb); err == nil {
			key = ctl.Unique()
		}
		unique, payload := callbacks.Split(cb)
		extras := []slog.Attr{slog.String("cb_key", unique), slog.String("payload", payload)}

		h, ok := reg.Callback(key)
		if !ok || h == nil {
			h = opts.NotFound
			if h == nil {
				h = reg.CallbackNotFound()
			}
			extras = append(extras, slog.String("cause", "not_found"))
		}
		s := newSummary("callback."+normalizeHandlerName(key), start, extras...)
		if h == nil {
			s.skip(c)
			return nil
		}
		return s.run(c, h)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
