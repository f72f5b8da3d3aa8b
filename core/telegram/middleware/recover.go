package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m3rciful/placebot/core/logger"
	tghelpers "github.com/m3rciful/placebot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware turns a handler panic into an error log and a failed "panic"
// update for the observer. The update is then treated as handled.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		start := time.Now()
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ctx, ok := tghelpers.ContextFrom(c)
			if !ok {
				ctx = context.Background()
			}
			logger.Error(ctx, "tg", "tg.panic",
				slog.String("err", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			ObserveHandled("panic", "fail", time.Since(start))
			err = nil
		}()
		return next(c)
	}
}
