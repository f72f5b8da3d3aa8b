package middleware

import (
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"
)

// UpdateObserver receives one call per handled update.
type UpdateObserver func(handler, outcome string, d time.Duration)

var observer atomic.Pointer[UpdateObserver]

// SetUpdateObserver installs the process-wide update observer; nil removes it.
func SetUpdateObserver(fn UpdateObserver) {
	if fn == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&fn)
}

// ObserveHandled reports a handled update to the installed observer, if any.
func ObserveHandled(handler, outcome string, d time.Duration) {
	if fn := observer.Load(); fn != nil {
		(*fn)(handler, outcome, d)
	}
}

const countersKey = "placebot.counters"

// replyCounters tracks what one update sent back: message count and whether any
// message carried a keyboard.
type replyCounters struct {
	messages atomic.Int32
	keyboard atomic.Bool
}

func countersOf(c tele.Context) *replyCounters {
	rc, _ := c.Get(countersKey).(*replyCounters)
	return rc
}

// metricsContext counts successful sends made through the wrapped context.
type metricsContext struct{ tele.Context }

func (m metricsContext) incMessages(hasKB bool) {
	rc := countersOf(m.Context)
	if rc == nil {
		rc = &replyCounters{}
		m.Set(countersKey, rc)
	}
	rc.messages.Add(1)
	if hasKB {
		rc.keyboard.Store(true)
	}
}

func (m metricsContext) count(err error, opts []interface{}) error {
	if err == nil {
		m.incMessages(hasKeyboard(opts))
	}
	return err
}

func hasKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (m metricsContext) Send(what interface{}, opts ...interface{}) error {
	return m.count(m.Context.Send(what, opts...), opts)
}

func (m metricsContext) Reply(what interface{}, opts ...interface{}) error {
	return m.count(m.Context.Reply(what, opts...), opts)
}

func (m metricsContext) Edit(what interface{}, opts ...interface{}) error {
	return m.count(m.Context.Edit(what, opts...), opts)
}

func (m metricsContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return m.count(m.Context.EditOrSend(what, opts...), opts)
}

func (m metricsContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return m.count(m.Context.EditOrReply(what, opts...), opts)
}

// MessageMetricsMiddleware resets the reply counters and hands the handler a
// context that counts its sends.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set(countersKey, &replyCounters{})
		return next(metricsContext{Context: c})
	}
}

// GetCounters returns the number of messages sent for c and whether any had a keyboard.
func GetCounters(c tele.Context) (int, bool) {
	rc := countersOf(c)
	if rc == nil {
		return 0, false
	}
	return int(rc.messages.Load()), rc.keyboard.Load()
}

// CountMessage records a message sent on behalf of c outside of c.Send,
// for instance through the bot API directly.
func CountMessage(c tele.Context, hasKB bool) {
	if c != nil {
		metricsContext{Context: c}.incMessages(hasKB)
	}
}
