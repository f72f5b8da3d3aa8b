package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/placebot/core/logger"
	tghelpers "github.com/m3rciful/placebot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const sweepEvery = time.Minute

// RateLimitOptions configures RateLimitMiddleware. Exclude holds update kinds
// ("message", "callback", "inline_query", "other") that are never limited.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// userLimits keeps one single-token bucket per user. A bucket idle for a whole
// interval is full again, so the sweep may drop it.
type userLimits struct {
	mu      sync.Mutex
	every   time.Duration
	buckets map[int64]*userBucket
	swept   time.Time
}

func newUserLimits(every time.Duration) *userLimits {
	return &userLimits{every: every, buckets: make(map[int64]*userBucket), swept: time.Now()}
}

func (u *userLimits) allow(userID int64, now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if now.Sub(u.swept) >= sweepEvery {
		for id, b := range u.buckets {
			if now.Sub(b.seen) >= u.every {
				delete(u.buckets, id)
			}
		}
		u.swept = now
	}
	b, ok := u.buckets[userID]
	if !ok {
		b = &userBucket{lim: rate.NewLimiter(rate.Every(u.every), 1)}
		u.buckets[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// RateLimitMiddleware drops updates that arrive less than Interval after the last
// accepted update from the same user. Dropped updates go to OnLimited.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	limits := newUserLimits(opts.Interval)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := updateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if limits.allow(user.ID, time.Now()) {
				return next(c)
			}

			ctx, ok := tghelpers.ContextFrom(c)
			if !ok {
				ctx = context.Background()
			}
			attrs := []slog.Attr{
				slog.String("status", "rate_limited"),
				slog.String("op", kind),
				slog.Int64("user_id", user.ID),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.Int64("chat_id", chat.ID))
			}
			logger.Warn(ctx, "tg", "tg.rate_limit", attrs...)
			ObserveHandled("rate_limited", "rate_limited", 0)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
