package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/placebot/core/telegram/callbacks"
	"github.com/m3rciful/placebot/internal/geo"
	"github.com/m3rciful/placebot/internal/places"
	"github.com/m3rciful/placebot/internal/session"
)

func browsing(category string, radius int) session.Session {
	s := session.New(100, "Ann", "ann")
	loc := home
	s.Location = &loc
	s.Category = category
	s.RadiusMeters = radius
	s.State = session.StateBrowsing
	return s
}

func TestStartCreatesSessionAndAsksLocation(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.handle(t, Event{Kind: EventStart, DisplayName: "Ann", Handle: "ann"})

	s := h.session(t)
	require.NotNil(t, s)
	assert.Equal(t, session.StateAwaitingLocation, s.State)
	assert.Equal(t, "Ann", s.DisplayName)

	last := h.transport.last()
	assert.Equal(t, "text", last.op)
	assert.Equal(t, textLocationPrompt, last.text)
	require.NotNil(t, last.markup)
	assert.True(t, last.markup.ReplyKeyboard[0][0].Location)
}

func TestStartIsIdempotentAndKeepsData(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.seed(t, browsing("pharmacy", 1000))

	h.handle(t, Event{Kind: EventStart})

	s := h.session(t)
	assert.Equal(t, session.StateAwaitingLocation, s.State)
	assert.Equal(t, "pharmacy", s.Category)
	assert.NotNil(t, s.Location)
	assert.Equal(t, textLocationPrompt, h.transport.last().text)
}

func TestTextWithoutLocationAlwaysAsksLocation(t *testing.T) {
	cases := map[string]*session.Session{
		"no session": nil,
		"category and radius but no location": func() *session.Session {
			s := session.New(100, "", "")
			s.Category = "pharmacy"
			s.RadiusMeters = 5000
			s.State = session.StateAwaitingRadius
			return &s
		}(),
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, scenarioProvider())
			if seed != nil {
				h.seed(t, *seed)
			}
			h.handle(t, Event{Kind: EventText, Text: "pharmacy"})

			assert.Equal(t, textLocationPrompt, h.transport.last().text)
			s := h.session(t)
			require.NotNil(t, s)
			assert.Equal(t, session.StateAwaitingLocation, s.State)
			assert.Zero(t, h.provider.searchCount())
		})
	}
}

func TestInvalidLocationAsksAgain(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.handle(t, Event{Kind: EventLocation, Location: geo.Point{Lat: 123, Lng: 0}})

	assert.Equal(t, textLocationPrompt, h.transport.last().text)
	assert.False(t, h.session(t).HasLocation())
}

func TestFullSearchFlow(t *testing.T) {
	h := newHarness(t, scenarioProvider())

	h.handle(t, Event{Kind: EventLocation, Location: home, DisplayName: "Ann"})
	last := h.transport.last()
	assert.Contains(t, last.text, "*Ann*")
	require.NotNil(t, last.markup)
	assert.Len(t, last.markup.ReplyKeyboard, 2, "four categories laid out two per row")
	assert.Equal(t, session.StateAwaitingCategory, h.session(t).State)

	h.handle(t, Event{Kind: EventText, Text: "  pharmacy  "})
	last = h.transport.last()
	assert.Contains(t, last.text, "*pharmacy*")
	require.NotNil(t, last.markup)
	assert.Equal(t, callbacks.UniqueRadius, last.markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "1 km", last.markup.InlineKeyboard[0][0].Text)
	s := h.session(t)
	assert.Equal(t, "pharmacy", s.Category)
	assert.Equal(t, session.StateAwaitingRadius, s.State)

	h.transport.reset()
	carrier := MessageRef{ChatID: 100, MessageID: 55}
	h.handle(t, control(Event{Control: callbacks.Radius(1000), Carrier: carrier}))
	assert.Equal(t, []string{"notify", "delete", "photo"}, h.transport.ops())
	card := h.transport.last()
	assert.Contains(t, card.text, "Near Pharmacy")
	assert.Contains(t, card.text, "200 m")
	assert.Equal(t, "https://photos.test/near", card.photo)
	assert.Equal(t, "1/3", card.markup.InlineKeyboard[0][1].Text)
	assert.Equal(t, 1000, h.provider.lastRadius)

	s = h.session(t)
	assert.Equal(t, session.StateBrowsing, s.State)
	assert.Equal(t, 1000, s.RadiusMeters)

	h.transport.reset()
	cardRef := MessageRef{ChatID: 100, MessageID: 56}
	h.handle(t, control(Event{Control: callbacks.Page(2), Carrier: cardRef}))
	assert.Equal(t, []string{"notify", "edit"}, h.transport.ops())
	edit := h.transport.last()
	assert.Equal(t, cardRef, edit.ref)
	assert.Contains(t, edit.text, "Mid Pharmacy")
	assert.Contains(t, edit.text, "500 m")
	assert.Equal(t, places.FallbackImageURL, edit.photo)
	assert.Equal(t, "2/3", edit.markup.InlineKeyboard[0][1].Text)

	h.transport.reset()
	h.handle(t, control(Event{Control: callbacks.Page(4), Carrier: cardRef}))
	last = h.transport.last()
	assert.Equal(t, "text", last.op)
	assert.Equal(t, textNotFound, last.text)
	assert.Equal(t, callbacks.UniqueBack, last.markup.InlineKeyboard[0][0].Unique)
}

func TestBoundaryNoticesDoNotFetch(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.seed(t, browsing("pharmacy", 1000))
	before := h.session(t)

	h.handle(t, control(Event{Control: callbacks.Boundary(callbacks.EdgeFirst)}))
	first := h.transport.last()
	assert.Equal(t, "notify", first.op)
	assert.Equal(t, noticeFirstPage, first.text)
	assert.True(t, first.alert)

	h.handle(t, control(Event{Control: callbacks.Boundary(callbacks.EdgeLast)}))
	assert.Equal(t, noticeLastPage, h.transport.last().text)

	h.handle(t, control(Event{Control: callbacks.Page(0)}))
	assert.Equal(t, noticeFirstPage, h.transport.last().text)

	assert.Zero(t, h.provider.searchCount())
	assert.Equal(t, before.UpdatedAt, h.session(t).UpdatedAt, "boundary notices do not write the session")
}

func TestCategoryChangeWhileBrowsingRestartsAtPageOne(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.seed(t, browsing("school", 3000))

	h.handle(t, Event{Kind: EventText, Text: "pharmacy"})
	assert.Equal(t, session.StateAwaitingRadius, h.session(t).State)

	h.handle(t, control(Event{Control: callbacks.Page(3), Carrier: MessageRef{ChatID: 100, MessageID: 9}}))
	assert.Equal(t, noticeOutdated, h.transport.last().text)
	assert.Zero(t, h.provider.searchCount())

	h.handle(t, control(Event{Control: callbacks.Radius(5000)}))
	card := h.transport.last()
	assert.Equal(t, "photo", card.op)
	assert.Equal(t, "1/3", card.markup.InlineKeyboard[0][1].Text)
	assert.Equal(t, 5000, h.provider.lastRadius)
}

func TestBackReturnsToCategoryPrompt(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.seed(t, browsing("pharmacy", 1000))
	carrier := MessageRef{ChatID: 100, MessageID: 77}

	h.handle(t, control(Event{Control: callbacks.Back(), Carrier: carrier}))

	assert.Equal(t, []string{"notify", "delete", "text"}, h.transport.ops())
	assert.Equal(t, noticeGoingBack, h.transport.calls[0].text)
	assert.Equal(t, carrier, h.transport.calls[1].ref)
	assert.Contains(t, h.transport.last().text, "What are you looking for?")
	assert.Equal(t, session.StateAwaitingCategory, h.session(t).State)
}

func TestBackWithoutSessionAsksLocation(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.transport.deleteErr = errors.New("message to delete not found")

	h.handle(t, control(Event{Control: callbacks.Back(), Carrier: MessageRef{ChatID: 100, MessageID: 3}}))

	assert.Equal(t, textLocationPrompt, h.transport.last().text)
	assert.Equal(t, session.StateAwaitingLocation, h.session(t).State)
}

func TestStopDeletesSession(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.seed(t, browsing("pharmacy", 1000))

	h.handle(t, Event{Kind: EventStop})

	assert.Nil(t, h.session(t))
	last := h.transport.last()
	assert.Equal(t, textFarewell, last.text)
	assert.True(t, last.markup.RemoveKeyboard)
}

func TestRadiusRequiresAllowedValue(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	s := browsing("pharmacy", 0)
	s.State = session.StateAwaitingRadius
	h.seed(t, s)

	h.handle(t, control(Event{Control: callbacks.Radius(2500)}))

	assert.Equal(t, noticeBadRadius, h.transport.last().text)
	assert.Equal(t, session.StateAwaitingRadius, h.session(t).State)
	assert.Zero(t, h.provider.searchCount())
}

func TestRadiusWithoutCategoryAsksCategory(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	s := browsing("", 0)
	s.State = session.StateAwaitingCategory
	h.seed(t, s)

	h.handle(t, control(Event{Control: callbacks.Radius(1000)}))

	assert.Contains(t, h.transport.last().text, "What are you looking for?")
	assert.Zero(t, h.provider.searchCount())
}

func TestProviderFailureShowsNotFound(t *testing.T) {
	p := scenarioProvider()
	p.err = places.ErrProvider
	h := newHarness(t, p)
	s := browsing("pharmacy", 0)
	s.State = session.StateAwaitingRadius
	h.seed(t, s)

	h.handle(t, control(Event{Control: callbacks.Radius(1000)}))

	assert.Equal(t, textNotFound, h.transport.last().text)
	assert.Equal(t, session.StateBrowsing, h.session(t).State)
}

func TestEditFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.transport.editErr = errors.New("message to edit not found")
	h.seed(t, browsing("pharmacy", 1000))

	h.handle(t, control(Event{Control: callbacks.Page(2), Carrier: MessageRef{ChatID: 100, MessageID: 8}}))

	assert.Equal(t, []string{"notify", "edit"}, h.transport.ops())
}

func TestNoOpAndUnsupportedControls(t *testing.T) {
	h := newHarness(t, scenarioProvider())
	h.seed(t, browsing("pharmacy", 1000))

	h.handle(t, control(Event{Control: callbacks.NoOp()}))
	noop := h.transport.last()
	assert.Equal(t, "notify", noop.op)
	assert.Empty(t, noop.text)

	h.handle(t, Event{Kind: EventBadControl, CallbackID: "cb-2"})
	assert.Equal(t, noticeUnsupported, h.transport.last().text)
	assert.Zero(t, h.provider.searchCount())
}

type failingStore struct {
	*session.MemoryStore
}

func (failingStore) Upsert(context.Context, *session.Session) error {
	return errors.New("db down")
}

func TestPersistFailureDoesNotBlockReply(t *testing.T) {
	p := scenarioProvider()
	store := failingStore{MemoryStore: session.NewMemoryStore()}
	m := NewMachine(store, places.NewRanker(p), places.NewEnricher(p), Config{PersistAttempts: 1})
	tr := &fakeTransport{}

	err := m.Handle(context.Background(), tr, Event{Kind: EventStart, UserID: 5, ChatID: 5})
	require.NoError(t, err)
	assert.Equal(t, textLocationPrompt, tr.last().text)
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "fast food", normalizeCategory("  fast   food \n"))
	long := ""
	for i := 0; i < 100; i++ {
		long += "я"
	}
	assert.Len(t, []rune(normalizeCategory(long)), maxCategoryRunes)
}
