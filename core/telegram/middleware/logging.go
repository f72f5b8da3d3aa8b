package middleware

import (
	"log/slog"
	"sync"

	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/placebot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// seenUpdates remembers the last few update ids so an update routed through
// more than one branch is logged once.
type seenUpdates struct {
	mu   sync.Mutex
	ids  map[int]struct{}
	ring []int
	next int
}

func newSeenUpdates(size int) *seenUpdates {
	return &seenUpdates{ids: make(map[int]struct{}, size), ring: make([]int, 0, size)}
}

// add records id and reports whether it was new.
func (s *seenUpdates) add(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, id)
	} else {
		delete(s.ids, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % len(s.ring)
	}
	s.ids[id] = struct{}{}
	return true
}

var received = newSeenUpdates(512)

// LoggerMiddleware builds the request context (rid plus update metadata) for the
// handlers and logs one sampled update.received line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		var userID, chatID int64
		if u := c.Sender(); u != nil {
			userID = u.ID
		}
		if ch := c.Chat(); ch != nil {
			chatID = ch.ID
		}
		c.Set("rid", logger.BuildRID(upd.ID, chatID, userID))
		ctx := tghelpers.BuildContext(c)

		if logger.ShouldSampleDebug() && received.add(upd.ID) {
			logger.Log(ctx, "tg", slog.LevelDebug, "update.received", receivedAttrs(c)...)
		}
		return next(c)
	}
}

// receivedAttrs describes the update: who sent it and what it carries. Locations
// are logged by kind only, never by coordinates.
func receivedAttrs(c tele.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("status", "ok")}
	if ch := c.Chat(); ch != nil {
		attrs = append(attrs, slog.String("chat_type", string(ch.Type)))
	}
	if u := c.Sender(); u != nil {
		if u.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(u.Username, 64)))
		}
		if u.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", u.LanguageCode))
		}
	}

	upd := c.Update()
	switch {
	case upd.Callback != nil:
		if ctl, err := callbacks.FromCallback(upd.Callback); err == nil {
			return append(attrs, slog.String("cb_key", ctl.String()))
		}
		key, payload := callbacks.Split(upd.Callback)
		attrs = append(attrs,
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
			slog.String("payload", logger.SanitizeLimit(payload, 256)),
		)
	case upd.Message != nil && upd.Message.Location != nil:
		attrs = append(attrs, slog.String("payload", "location"))
	case upd.Message != nil:
		attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(c.Text(), 256)))
	}
	return attrs
}
