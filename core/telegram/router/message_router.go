package router

import (
	"strings"
	"time"

	tg "github.com/m3rciful/placebot/core/telegram"
	"github.com/m3rciful/placebot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MessageOptions sets the handlers for text and locations nothing else claims.
type MessageOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownLocation tele.HandlerFunc
}

// MessageRoutes builds handlers for plain text and shared locations.
// Slash text that names a registered command is dispatched to that command;
// other slash text goes to UnknownText and never reaches the text fallback.
func MessageRoutes(reg *tg.Registry, opts MessageOptions) []tg.Route {
	textHandler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if strings.HasPrefix(strings.TrimSpace(text), "/") {
			if reg != nil {
				if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil && !cmd.AdminOnly {
					return newSummary(normalizeHandlerName(key), start).run(c, cmd.Handler)
				}
			}
		} else if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return newSummary("text", start).run(c, fb)
			}
		}

		s := newSummary("unknown_text", start)
		if opts.UnknownText == nil {
			s.skip(c)
			return nil
		}
		return s.run(c, opts.UnknownText)
	}

	locationHandler := func(c tele.Context) error {
		s := newSummary("unexpected_location", time.Now())
		h := opts.UnknownLocation
		if reg != nil && reg.LocationHandler() != nil {
			s.handler, h = "location", reg.LocationHandler()
		}
		if h == nil {
			s.skip(c)
			return nil
		}
		return s.run(c, h)
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(textHandler)},
		{Endpoint: tele.OnLocation, Handler: wrap(locationHandler)},
	}
}
