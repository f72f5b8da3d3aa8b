// Package broadcast delivers an administrator notification to every known user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/core/telegram/sender"
	"github.com/m3rciful/placebot/internal/conversation"
	"github.com/m3rciful/placebot/internal/metrics"
	"github.com/m3rciful/placebot/internal/session"
)

const (
	componentBroadcast = "broadcast"
	actionPrefix       = "broadcast."
)

// Notification is the payload pushed to every user. Message is Markdown; Image,
// when set, is sent as a photo with Message as its caption.
type Notification struct {
	Message string `json:"message" validate:"required"`
	Image   string `json:"image"`
}

// Result summarises one broadcast run.
type Result struct {
	Attempted int
	RunID     uuid.UUID
}

// Sender is the Bot API call used for deliveries.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Service fans a notification out through the outbound dispatcher.
type Service struct {
	store   session.Store
	api     Sender
	disp    *sender.Dispatcher
	metrics *metrics.Collector
}

func NewService(store session.Store, api Sender, disp *sender.Dispatcher, m *metrics.Collector) *Service {
	return &Service{store: store, api: api, disp: disp, metrics: m}
}

// Send schedules one independent delivery per stored session. Only a failure to
// list sessions is returned; delivery failures are logged by the dispatcher.
func (s *Service) Send(ctx context.Context, n Notification) (Result, error) {
	start := time.Now()
	list, err := s.store.List(ctx)
	if err != nil {
		logger.Error(ctx, componentBroadcast, "broadcast.list",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return Result{}, fmt.Errorf("list sessions: %w", err)
	}

	res := Result{Attempted: len(list), RunID: uuid.New()}
	s.metrics.ObserveBroadcast()

	// deliveries outlive the request that triggered them
	jobCtx := logger.WithRID(context.WithoutCancel(ctx), "bc-"+res.RunID.String()[:8])
	action, endpoint := actionPrefix+"text", "sendMessage"
	if n.Image != "" {
		action, endpoint = actionPrefix+"photo", "sendPhoto"
	}

	var fallbacks int
	for _, sess := range list {
		run := s.delivery(sess.UserID, n)
		recipientCtx := logger.WithUpdateMeta(jobCtx, 0, sess.UserID, sess.UserID)
		err := s.disp.Enqueue(recipientCtx, action, endpoint, run)
		if err == nil {
			continue
		}
		if !errors.Is(err, sender.ErrQueueFull) && !errors.Is(err, sender.ErrQueueClosed) {
			return res, err
		}
		fallbacks++
		runErr := run()
		s.metrics.ObserveDelivery(outcome(runErr))
		if runErr != nil {
			logger.Warn(recipientCtx, componentBroadcast, "broadcast.deliver",
				slog.String("status", "fail"),
				slog.String("err", logger.SanitizeLimit(runErr.Error(), 256)),
			)
		}
	}

	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("run_id", res.RunID.String()),
		slog.Int("recipients", res.Attempted),
		slog.Bool("image", n.Image != ""),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	}
	if fallbacks > 0 {
		attrs = append(attrs, slog.Int("sync_fallbacks", fallbacks))
	}
	logger.Info(ctx, componentBroadcast, "broadcast.scheduled", attrs...)
	return res, nil
}

func (s *Service) delivery(chatID int64, n Notification) func() error {
	opts := &tele.SendOptions{
		ParseMode:   tele.ModeMarkdown,
		ReplyMarkup: conversation.BackMarkup(conversation.TryItButton),
	}
	to := tele.ChatID(chatID)
	return func() error {
		var what interface{} = n.Message
		if n.Image != "" {
			what = &tele.Photo{File: tele.FromURL(n.Image), Caption: n.Message}
		}
		if _, err := s.api.Send(to, what, opts); err != nil {
			return fmt.Errorf("deliver to %d: %w", chatID, err)
		}
		return nil
	}
}

// DeliveryObserver returns a dispatcher result hook counting broadcast deliveries.
func DeliveryObserver(m *metrics.Collector) func(ctx context.Context, action string, err error) {
	return func(_ context.Context, action string, err error) {
		if strings.HasPrefix(action, actionPrefix) {
			m.ObserveDelivery(outcome(err))
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}
