package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/telegram/callbacks"
	"github.com/m3rciful/placebot/core/telegram/sender"
	"github.com/m3rciful/placebot/internal/metrics"
	"github.com/m3rciful/placebot/internal/session"
)

type delivery struct {
	to   string
	what interface{}
	opts *tele.SendOptions
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []delivery
	failFor map[string]error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := delivery{to: to.Recipient(), what: what}
	if len(opts) > 0 {
		d.opts, _ = opts[0].(*tele.SendOptions)
	}
	f.sent = append(f.sent, d)
	if err := f.failFor[d.to]; err != nil {
		return nil, err
	}
	return &tele.Message{}, nil
}

func (f *fakeSender) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.sent...)
}

type failingStore struct{ session.Store }

func (failingStore) List(context.Context) ([]session.Session, error) {
	return nil, errors.New("db down")
}

func seed(t *testing.T, ids ...int64) *session.MemoryStore {
	t.Helper()
	store := session.NewMemoryStore()
	for _, id := range ids {
		s := session.New(id, "", "")
		require.NoError(t, store.Upsert(context.Background(), &s))
	}
	return store
}

func newDispatcher(m *metrics.Collector) *sender.Dispatcher {
	return sender.NewDispatcher(sender.Options{
		Workers:      2,
		RetryBackoff: time.Millisecond,
		OnResult:     DeliveryObserver(m),
	})
}

func TestSendAttemptsEverySession(t *testing.T) {
	m := metrics.New("placebot")
	api := &fakeSender{failFor: map[string]error{"2": errors.New("telegram: Forbidden: bot was blocked by the user (403)")}}
	disp := newDispatcher(m)
	svc := NewService(seed(t, 1, 2, 3), api, disp, m)

	res, err := svc.Send(context.Background(), Notification{Message: "*New* places added"})
	require.NoError(t, err)
	disp.Close()

	assert.Equal(t, 3, res.Attempted)
	assert.NotEqual(t, uuid.Nil, res.RunID)

	sent := api.deliveries()
	require.Len(t, sent, 3)
	recipients := map[string]bool{}
	for _, d := range sent {
		recipients[d.to] = true
		assert.Equal(t, "*New* places added", d.what)
		require.NotNil(t, d.opts)
		assert.Equal(t, tele.ModeMarkdown, d.opts.ParseMode)

		require.NotNil(t, d.opts.ReplyMarkup)
		require.Len(t, d.opts.ReplyMarkup.InlineKeyboard, 1)
		btn := d.opts.ReplyMarkup.InlineKeyboard[0][0]
		assert.Equal(t, "Try it", btn.Text)
		assert.Equal(t, callbacks.UniqueBack, btn.Unique)
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, recipients)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Broadcasts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BroadcastDeliveries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastDeliveries.WithLabelValues("fail")))
}

func TestSendWithImageUsesPhoto(t *testing.T) {
	api := &fakeSender{}
	disp := newDispatcher(nil)
	svc := NewService(seed(t, 10), api, disp, nil)

	_, err := svc.Send(context.Background(), Notification{Message: "Look", Image: "https://img.example/a.png"})
	require.NoError(t, err)
	disp.Close()

	sent := api.deliveries()
	require.Len(t, sent, 1)
	photo, ok := sent[0].what.(*tele.Photo)
	require.True(t, ok)
	assert.Equal(t, "https://img.example/a.png", photo.FileURL)
	assert.Equal(t, "Look", photo.Caption)
}

func TestSendWithNoSessions(t *testing.T) {
	api := &fakeSender{}
	disp := newDispatcher(nil)
	svc := NewService(session.NewMemoryStore(), api, disp, nil)

	res, err := svc.Send(context.Background(), Notification{Message: "hi"})
	require.NoError(t, err)
	disp.Close()

	assert.Zero(t, res.Attempted)
	assert.Empty(t, api.deliveries())
}

func TestSendListFailure(t *testing.T) {
	disp := newDispatcher(nil)
	defer disp.Close()
	svc := NewService(failingStore{}, &fakeSender{}, disp, nil)

	_, err := svc.Send(context.Background(), Notification{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list sessions")
}

func TestSendFallsBackWhenDispatcherClosed(t *testing.T) {
	api := &fakeSender{}
	disp := newDispatcher(nil)
	disp.Close()
	svc := NewService(seed(t, 4, 5), api, disp, nil)

	res, err := svc.Send(context.Background(), Notification{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempted)
	assert.Len(t, api.deliveries(), 2)
}

func TestSendSurvivesCancelledRequestContext(t *testing.T) {
	api := &fakeSender{}
	disp := newDispatcher(nil)
	svc := NewService(seed(t, 6), api, disp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Send(ctx, Notification{Message: "hi"})
	require.NoError(t, err)
	cancel()
	disp.Close()

	assert.Len(t, api.deliveries(), 1)
}
