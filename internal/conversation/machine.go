// Package conversation drives a user's search session: it turns inbound events into
// session transitions and outbound prompts, page cards and notices.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/core/telegram/callbacks"
	"github.com/m3rciful/placebot/internal/metrics"
	"github.com/m3rciful/placebot/internal/places"
	"github.com/m3rciful/placebot/internal/session"
)

const (
	componentConversation = "conversation"
	maxCategoryRunes      = 64
)

// Config tunes the machine.
type Config struct {
	Radii           []int
	DefaultRadius   int
	Categories      []string
	TurnTimeout     time.Duration
	PersistAttempts int
}

func (c Config) withDefaults() Config {
	if len(c.Radii) == 0 {
		c.Radii = []int{1000, 3000, 5000, 10000}
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = session.DefaultRadiusMeters
	}
	if len(c.Categories) == 0 {
		c.Categories = []string{"Food", "Supermarket", "School", "Pharmacy"}
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 20 * time.Second
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 2
	}
	return c
}

// Option configures a Machine.
type Option func(*Machine)

// WithMetrics records transitions and persistence failures.
func WithMetrics(m *metrics.Collector) Option {
	return func(mc *Machine) { mc.metrics = m }
}

// Machine runs one turn per inbound event. Turns of the same user never overlap.
type Machine struct {
	store    session.Store
	ranker   *places.Ranker
	enricher *places.Enricher
	renderer *Renderer
	cfg      Config
	locks    *userLocks
	metrics  *metrics.Collector
}

func NewMachine(store session.Store, ranker *places.Ranker, enricher *places.Enricher, cfg Config, opts ...Option) *Machine {
	cfg = cfg.withDefaults()
	m := &Machine{
		store:    store,
		ranker:   ranker,
		enricher: enricher,
		renderer: NewRenderer(cfg.Categories, cfg.Radii),
		cfg:      cfg,
		locks:    newUserLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Renderer exposes the machine's renderer.
func (m *Machine) Renderer() *Renderer { return m.renderer }

type effectKind int

const (
	doLocationPrompt effectKind = iota
	doCategoryPrompt
	doRadiusPrompt
	doNotify
	doAck
	doDeleteCarrier
	doShowPage
	doFarewell
)

type effect struct {
	kind  effectKind
	text  string
	alert bool
	page  int
	mode  Mode
}

// plan is the pure outcome of a transition: the next session value and what to do.
type plan struct {
	next    *session.Session
	remove  bool
	effects []effect
}

func notify(text string, alert bool) effect { return effect{kind: doNotify, text: text, alert: alert} }
func do(kind effectKind) effect             { return effect{kind: kind} }

// Handle runs one turn: load the session once, compute the next value, persist it,
// then perform outbound effects. Persistence failures are logged and never block replies.
func (m *Machine) Handle(ctx context.Context, tr Transport, ev Event) error {
	release := m.locks.Lock(ev.UserID)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.TurnTimeout)
	defer cancel()
	start := time.Now()

	prev, err := m.store.Get(ctx, ev.UserID)
	loaded := err == nil
	if err != nil {
		logger.Warn(ctx, componentConversation, "session.load",
			slog.Int64("user_id", ev.UserID),
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		prev = nil
	}

	p := m.transition(prev, ev)
	m.persist(ctx, ev.UserID, prev, p, loaded)

	from, to := stateOf(prev), stateOf(p.next)
	if p.remove {
		to = string(session.StateNew)
	}
	m.metrics.ObserveTransition(from, to)

	var errs []error
	for _, e := range p.effects {
		if err := m.apply(ctx, tr, ev, p.next, e); err != nil {
			errs = append(errs, err)
		}
	}

	attrs := []slog.Attr{
		slog.Int64("user_id", ev.UserID),
		slog.String("op", ev.Kind.String()),
		slog.String("from", from),
		slog.String("to", to),
		slog.Duration("duration", logger.Took(start)),
	}
	if ev.Kind == EventControl {
		attrs = append(attrs, slog.String("cb_key", ev.Control.String()))
	}
	if from != to {
		logger.Info(ctx, componentConversation, "turn", attrs...)
	} else {
		logger.Debug(ctx, componentConversation, "turn", attrs...)
	}
	return errors.Join(errs...)
}

func (m *Machine) transition(prev *session.Session, ev Event) plan {
	cur := session.New(ev.UserID, ev.DisplayName, ev.Handle)
	if prev != nil {
		cur = prev.Clone()
		if ev.DisplayName != "" {
			cur.DisplayName = ev.DisplayName
		}
		if ev.Handle != "" {
			cur.Handle = ev.Handle
		}
	}

	switch ev.Kind {
	case EventStop:
		return plan{remove: true, effects: []effect{do(doFarewell)}}

	case EventStart:
		cur.State = session.StateAwaitingLocation
		return plan{next: &cur, effects: []effect{do(doLocationPrompt)}}

	case EventLocation:
		if !ev.Location.Valid() {
			cur.State = session.StateAwaitingLocation
			return plan{next: &cur, effects: []effect{do(doLocationPrompt)}}
		}
		loc := ev.Location
		cur.Location = &loc
		cur.State = session.StateAwaitingCategory
		return plan{next: &cur, effects: []effect{do(doCategoryPrompt)}}

	case EventText:
		if !cur.HasLocation() {
			cur.State = session.StateAwaitingLocation
			return plan{next: &cur, effects: []effect{do(doLocationPrompt)}}
		}
		category := normalizeCategory(ev.Text)
		if category == "" {
			cur.State = session.StateAwaitingCategory
			return plan{next: &cur, effects: []effect{do(doCategoryPrompt)}}
		}
		cur.Category = category
		cur.State = session.StateAwaitingRadius
		return plan{next: &cur, effects: []effect{do(doRadiusPrompt)}}

	case EventControl:
		return m.control(prev, cur, ev.Control)
	}

	return plan{next: prev, effects: []effect{notify(noticeUnsupported, false)}}
}

func (m *Machine) control(prev *session.Session, cur session.Session, ctl callbacks.Control) plan {
	switch ctl.Kind {
	case callbacks.KindNoOp:
		return plan{next: prev, effects: []effect{do(doAck)}}

	case callbacks.KindBoundary:
		text := noticeFirstPage
		if ctl.Edge == callbacks.EdgeLast {
			text = noticeLastPage
		}
		return plan{next: prev, effects: []effect{notify(text, true)}}

	case callbacks.KindPage:
		if prev == nil || prev.State != session.StateBrowsing || !prev.Searchable() {
			return plan{next: prev, effects: []effect{notify(noticeOutdated, false)}}
		}
		if ctl.Page < 1 {
			return plan{next: prev, effects: []effect{notify(noticeFirstPage, true)}}
		}
		return plan{next: prev, effects: []effect{
			do(doAck),
			{kind: doShowPage, page: ctl.Page, mode: ModeEdit},
		}}

	case callbacks.KindBack:
		effects := []effect{notify(noticeGoingBack, false), do(doDeleteCarrier)}
		if !cur.HasLocation() {
			cur.State = session.StateAwaitingLocation
			return plan{next: &cur, effects: append(effects, do(doLocationPrompt))}
		}
		cur.State = session.StateAwaitingCategory
		return plan{next: &cur, effects: append(effects, do(doCategoryPrompt))}

	case callbacks.KindRadius:
		if err := session.ValidateRadius(ctl.Radius, m.cfg.Radii); err != nil {
			return plan{next: prev, effects: []effect{notify(noticeBadRadius, true)}}
		}
		if !cur.HasLocation() {
			cur.State = session.StateAwaitingLocation
			return plan{next: &cur, effects: []effect{notify(noticeNoLocation, false), do(doLocationPrompt)}}
		}
		if !cur.HasCategory() {
			cur.State = session.StateAwaitingCategory
			return plan{next: &cur, effects: []effect{notify(noticeNoCategory, false), do(doCategoryPrompt)}}
		}
		cur.RadiusMeters = ctl.Radius
		cur.State = session.StateBrowsing
		return plan{next: &cur, effects: []effect{
			do(doAck),
			do(doDeleteCarrier),
			{kind: doShowPage, page: 1, mode: ModeNew},
		}}
	}

	return plan{next: prev, effects: []effect{notify(noticeUnsupported, false)}}
}

func (m *Machine) persist(ctx context.Context, userID int64, prev *session.Session, p plan, loaded bool) {
	if p.remove {
		if err := m.store.Delete(ctx, userID); err != nil {
			m.metrics.ObservePersistFailure()
			logger.Warn(ctx, componentConversation, "session.delete",
				slog.Int64("user_id", userID),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		return
	}
	if p.next == nil || (prev != nil && prev.Equal(*p.next)) {
		return
	}
	if !loaded {
		// Writing over a record we could not read would drop its fields.
		logger.Warn(ctx, componentConversation, "session.persist",
			slog.Int64("user_id", userID),
			slog.String("status", "skip"),
		)
		return
	}
	if err := session.SaveWithRetry(ctx, m.store, p.next, m.cfg.PersistAttempts); err != nil {
		m.metrics.ObservePersistFailure()
		logger.Warn(ctx, componentConversation, "session.persist",
			slog.Int64("user_id", userID),
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

func (m *Machine) apply(ctx context.Context, tr Transport, ev Event, s *session.Session, e effect) error {
	switch e.kind {
	case doLocationPrompt:
		text, markup := m.renderer.LocationPrompt()
		return sendText(ctx, tr, ev.ChatID, text, markup, "location prompt")

	case doCategoryPrompt:
		greeting := session.Session{DisplayName: ev.DisplayName, Handle: ev.Handle}.Greeting()
		if s != nil {
			greeting = s.Greeting()
		}
		text, markup := m.renderer.CategoryPrompt(greeting)
		return sendText(ctx, tr, ev.ChatID, text, markup, "category prompt")

	case doRadiusPrompt:
		text, markup := m.renderer.RadiusPrompt(s.Category)
		return sendText(ctx, tr, ev.ChatID, text, markup, "radius prompt")

	case doNotify, doAck:
		if ev.CallbackID == "" {
			return nil
		}
		if err := tr.Notify(ctx, ev.CallbackID, e.text, e.alert); err != nil {
			logger.Debug(ctx, componentConversation, "notify",
				slog.Int64("user_id", ev.UserID),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		return nil

	case doDeleteCarrier:
		if ev.Carrier.MessageID == 0 {
			return nil
		}
		if err := tr.Delete(ctx, ev.Carrier); err != nil {
			logger.Debug(ctx, componentConversation, "message.delete",
				slog.Int64("user_id", ev.UserID),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		return nil

	case doShowPage:
		return m.showPage(ctx, tr, ev, *s, e.page, e.mode)

	case doFarewell:
		text, markup := m.renderer.Farewell()
		return sendText(ctx, tr, ev.ChatID, text, markup, "farewell")
	}
	return nil
}

// showPage ranks, enriches and renders one page. Provider failures degrade to the
// not-found message; edit failures are swallowed.
func (m *Machine) showPage(ctx context.Context, tr Transport, ev Event, s session.Session, page int, mode Mode) error {
	origin := *s.Location
	ranked, err := m.ranker.Rank(ctx, places.Query{
		Origin:       origin,
		Category:     s.Category,
		RadiusMeters: s.EffectiveRadius(m.cfg.DefaultRadius),
		Page:         page,
	})
	if err != nil {
		m.logProviderFailure(ctx, ev.UserID, page, err)
		return m.sendNotFound(ctx, tr, ev.ChatID)
	}
	if !ranked.Found {
		logger.Debug(ctx, componentConversation, "page.not_found",
			slog.Int64("user_id", ev.UserID),
			slog.Int("page", page),
			slog.Int("total", ranked.Total),
		)
		return m.sendNotFound(ctx, tr, ev.ChatID)
	}

	detail, err := m.enricher.Enrich(ctx, ranked.Candidate.PlaceID, origin)
	if err != nil {
		m.logProviderFailure(ctx, ev.UserID, page, err)
		return m.sendNotFound(ctx, tr, ev.ChatID)
	}

	caption := m.renderer.Caption(detail)
	markup := m.renderer.Navigation(ranked.Page, ranked.Total)

	if mode == ModeEdit && ev.Carrier.MessageID != 0 {
		if err := tr.EditPhoto(ctx, ev.Carrier, detail.PhotoURL, caption, markup); err != nil {
			logger.Debug(ctx, componentConversation, "page.edit",
				slog.Int64("user_id", ev.UserID),
				slog.Int("page", ranked.Page),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		return nil
	}

	if _, err := tr.SendPhoto(ctx, ev.ChatID, detail.PhotoURL, caption, markup); err != nil {
		return fmt.Errorf("send page %d: %w", ranked.Page, err)
	}
	logger.Debug(ctx, componentConversation, "page.show",
		slog.Int64("user_id", ev.UserID),
		slog.String("category", s.Category),
		slog.Int("radius_m", s.EffectiveRadius(m.cfg.DefaultRadius)),
		slog.Int("page", ranked.Page),
		slog.Int("total", ranked.Total),
		slog.String("place_id", ranked.Candidate.PlaceID),
	)
	return nil
}

func (m *Machine) sendNotFound(ctx context.Context, tr Transport, chatID int64) error {
	text, markup := m.renderer.NotFound()
	return sendText(ctx, tr, chatID, text, markup, "not found")
}

func (m *Machine) logProviderFailure(ctx context.Context, userID int64, page int, err error) {
	logger.Warn(ctx, componentConversation, "page.fetch",
		slog.Int64("user_id", userID),
		slog.Int("page", page),
		slog.String("status", "fail"),
		slog.Bool("circuit_open", errors.Is(err, places.ErrCircuitOpen)),
		slog.String("err", err.Error()),
	)
}

func sendText(ctx context.Context, tr Transport, chatID int64, text string, markup *tele.ReplyMarkup, what string) error {
	if _, err := tr.SendText(ctx, chatID, text, markup); err != nil {
		return fmt.Errorf("send %s: %w", what, err)
	}
	return nil
}

func stateOf(s *session.Session) string {
	if s == nil {
		return string(session.StateNew)
	}
	return string(s.State)
}

// normalizeCategory trims free text and caps it at maxCategoryRunes.
func normalizeCategory(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxCategoryRunes {
		text = string([]rune(text)[:maxCategoryRunes])
	}
	return text
}
