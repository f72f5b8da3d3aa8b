// Package helpers carries the per-update request context through telebot's
// context store so middleware and handlers log with the same rid.
package helpers

import (
	"cmp"
	"context"

	"github.com/m3rciful/placebot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const (
	ctxStoreKey = "placebot.ctx"
	ridStoreKey = "rid"
)

// StoreContext caches ctx on c.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(ctxStoreKey, ctx)
	}
}

// ContextFrom returns the context cached by StoreContext.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(ctxStoreKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the cached context or derives one from the update. The rid
// set by the logging middleware wins over a freshly built one.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := ContextFrom(c); ok {
		return ctx
	}
	var userID, chatID int64
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	updateID := c.Update().ID
	rid, _ := c.Get(ridStoreKey).(string)

	ctx := logger.WithRID(context.Background(), cmp.Or(rid, logger.BuildRID(updateID, chatID, userID)))
	ctx = logger.WithUpdateMeta(ctx, updateID, userID, chatID)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler tags the cached context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithHandler(ctx, handler)
		StoreContext(c, ctx)
	}
	return ctx
}
