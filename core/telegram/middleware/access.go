package middleware

import (
	"log/slog"

	"github.com/m3rciful/placebot/core/logger"
	tghelpers "github.com/m3rciful/placebot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions configures AdminOnlyMiddleware.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only AdminID through. With no AdminID configured every
// sender is rejected. Rejections are logged and handed to OnReject when set.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			var senderID int64
			if s := c.Sender(); s != nil {
				senderID = s.ID
			}
			if opts.AdminID != 0 && senderID == opts.AdminID {
				return next(c)
			}
			logger.Warn(tghelpers.BuildContext(c), "tg", "admin.reject",
				slog.Int64("user_id", senderID),
				slog.String("status", "skip"),
			)
			if opts.OnReject == nil {
				return nil
			}
			return opts.OnReject(c)
		}
	}
}
