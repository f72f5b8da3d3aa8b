package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/placebot/core/config"
)

// botAPIStub answers Bot API calls locally and records the method names.
type botAPIStub struct {
	mu    sync.Mutex
	calls []string
}

func (s *botAPIStub) RoundTrip(req *http.Request) (*http.Response, error) {
	method := path.Base(req.URL.Path)
	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.mu.Unlock()

	body := `{"ok":true,"result":true}`
	switch method {
	case "getMe":
		body = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"placebot","username":"placebot_bot"}}`
	case "getUpdates":
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(20 * time.Millisecond):
		}
		body = `{"ok":true,"result":[]}`
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (s *botAPIStub) called(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.calls, method)
}

func longpollConfig() *coreconfig.Config {
	return &coreconfig.Config{Telegram: coreconfig.TelegramConfig{
		Token:                  "1:test",
		RunMode:                RunModeLongpoll,
		LongPollTimeoutSeconds: 1,
	}}
}

func TestRunTelegramServesUntilCancelled(t *testing.T) {
	api := &botAPIStub{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for !api.called("getUpdates") {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	var started, stopped bool
	err := RunTelegram(ctx, RunOptions{
		Config:     longpollConfig(),
		HTTPClient: &http.Client{Transport: api},
		OnStart: func(_ context.Context, rt Runtime) error {
			started = rt.Bot != nil && rt.Dispatcher != nil && rt.Registry != nil
			return nil
		},
		OnStop: func(stopCtx context.Context, _ Runtime) error {
			stopped = stopCtx.Err() == nil
			return nil
		},
	})
	require.NoError(t, err)

	assert.True(t, started)
	assert.True(t, stopped, "OnStop gets a live context after cancellation")
	for _, method := range []string{"getMe", "deleteWebhook", "setMyCommands", "getUpdates"} {
		assert.True(t, api.called(method), method)
	}
}

func TestRunTelegramReturnsStartFailure(t *testing.T) {
	api := &botAPIStub{}
	boom := errors.New("admin listener busy")

	err := RunTelegram(context.Background(), RunOptions{
		Config:      longpollConfig(),
		HTTPClient:  &http.Client{Transport: api},
		KeepWebhook: true,
		OnStart:     func(context.Context, Runtime) error { return boom },
		OnStop: func(context.Context, Runtime) error {
			t.Error("OnStop must not run when OnStart fails")
			return nil
		},
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, api.called("deleteWebhook"))
	assert.False(t, api.called("getUpdates"))
}

func TestRunTelegramRequiresConfig(t *testing.T) {
	assert.EqualError(t, RunTelegram(context.Background(), RunOptions{}), "telegram: nil config provided")
}
