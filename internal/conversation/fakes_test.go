package conversation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/internal/geo"
	"github.com/m3rciful/placebot/internal/places"
	"github.com/m3rciful/placebot/internal/session"
)

var home = geo.Point{Lat: 41.3, Lng: 69.2}

func north(meters float64) geo.Point {
	return geo.Point{Lat: home.Lat + meters/geo.EarthRadiusMeters*180/math.Pi, Lng: home.Lng}
}

type call struct {
	op         string
	chatID     int64
	text       string
	photo      string
	markup     *tele.ReplyMarkup
	ref        MessageRef
	callbackID string
	alert      bool
}

type fakeTransport struct {
	mu        sync.Mutex
	calls     []call
	nextID    int
	editErr   error
	deleteErr error
}

func (f *fakeTransport) record(c call) MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	f.nextID++
	return MessageRef{ChatID: c.chatID, MessageID: f.nextID}
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (MessageRef, error) {
	return f.record(call{op: "text", chatID: chatID, text: text, markup: markup}), nil
}

func (f *fakeTransport) SendPhoto(_ context.Context, chatID int64, photoURL, caption string, markup *tele.ReplyMarkup) (MessageRef, error) {
	return f.record(call{op: "photo", chatID: chatID, photo: photoURL, text: caption, markup: markup}), nil
}

func (f *fakeTransport) EditPhoto(_ context.Context, ref MessageRef, photoURL, caption string, markup *tele.ReplyMarkup) error {
	f.record(call{op: "edit", ref: ref, photo: photoURL, text: caption, markup: markup})
	return f.editErr
}

func (f *fakeTransport) Notify(_ context.Context, callbackID, text string, alert bool) error {
	f.record(call{op: "notify", callbackID: callbackID, text: text, alert: alert})
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, ref MessageRef) error {
	f.record(call{op: "delete", ref: ref})
	return f.deleteErr
}

func (f *fakeTransport) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func (f *fakeTransport) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type fakeProvider struct {
	mu         sync.Mutex
	candidates []places.Candidate
	details    map[string]places.PlaceDetail
	err        error
	searches   int
	lastRadius int
}

func (p *fakeProvider) NearbySearch(_ context.Context, _ geo.Point, radius int, _ string) ([]places.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searches++
	p.lastRadius = radius
	if p.err != nil {
		return nil, p.err
	}
	return append([]places.Candidate(nil), p.candidates...), nil
}

func (p *fakeProvider) PlaceDetail(_ context.Context, id string) (places.PlaceDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return places.PlaceDetail{}, p.err
	}
	d, ok := p.details[id]
	if !ok {
		return places.PlaceDetail{}, errors.New("unknown place")
	}
	d.PlaceID = id
	return d, nil
}

func (p *fakeProvider) PhotoURL(ref string) string {
	if ref == "" {
		return places.FallbackImageURL
	}
	return "https://photos.test/" + ref
}

func (p *fakeProvider) searchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.searches
}

// scenarioProvider returns three pharmacies 800, 200 and 500 metres north of home, in that order.
func scenarioProvider() *fakeProvider {
	far, near, mid := north(800), north(200), north(500)
	return &fakeProvider{
		candidates: []places.Candidate{
			{PlaceID: "far", Location: far},
			{PlaceID: "near", Location: near},
			{PlaceID: "mid", Location: mid},
		},
		details: map[string]places.PlaceDetail{
			"far":  {Name: "Far Pharmacy", Location: &far, PhotoReference: "far"},
			"near": {Name: "Near Pharmacy", Location: &near, PhotoReference: "near"},
			"mid":  {Name: "Mid Pharmacy", Location: &mid},
		},
	}
}

type harness struct {
	machine   *Machine
	store     *session.MemoryStore
	transport *fakeTransport
	provider  *fakeProvider
}

func newHarness(t *testing.T, provider *fakeProvider) *harness {
	t.Helper()
	store := session.NewMemoryStore()
	m := NewMachine(store, places.NewRanker(provider), places.NewEnricher(provider), Config{})
	return &harness{machine: m, store: store, transport: &fakeTransport{}, provider: provider}
}

func (h *harness) handle(t *testing.T, ev Event) {
	t.Helper()
	if ev.UserID == 0 {
		ev.UserID = 100
	}
	if ev.ChatID == 0 {
		ev.ChatID = ev.UserID
	}
	require.NoError(t, h.machine.Handle(context.Background(), h.transport, ev))
}

func (h *harness) session(t *testing.T) *session.Session {
	t.Helper()
	s, err := h.store.Get(context.Background(), 100)
	require.NoError(t, err)
	return s
}

func (h *harness) seed(t *testing.T, s session.Session) {
	t.Helper()
	require.NoError(t, h.store.Upsert(context.Background(), &s))
}

func control(c Event) Event {
	c.Kind = EventControl
	if c.CallbackID == "" {
		c.CallbackID = "cb-1"
	}
	return c
}
