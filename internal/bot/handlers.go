package bot

import (
	"context"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/logger"
	tg "github.com/m3rciful/placebot/core/telegram"
	"github.com/m3rciful/placebot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/placebot/core/telegram/helpers"
	"github.com/m3rciful/placebot/internal/conversation"
	"github.com/m3rciful/placebot/internal/geo"
	"github.com/m3rciful/placebot/internal/session"
)

const textUnknownCommand = "Unknown command. Send /start to look for places nearby."

// Turner runs one conversation turn.
type Turner interface {
	Handle(ctx context.Context, tr conversation.Transport, ev conversation.Event) error
}

// TransportFunc builds the transport used to answer the update in c.
type TransportFunc func(c tele.Context) conversation.Transport

// Handlers converts Telegram updates into conversation events.
type Handlers struct {
	machine   Turner
	store     session.Store
	transport TransportFunc
}

// NewHandlers wires the handlers. A nil transport answers through the update's bot.
func NewHandlers(machine Turner, store session.Store, transport TransportFunc) *Handlers {
	if transport == nil {
		transport = func(c tele.Context) conversation.Transport {
			return NewTransport(c.Bot(), c)
		}
	}
	return &Handlers{machine: machine, store: store, transport: transport}
}

// Register binds commands, text, location and every control to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	commands := []struct {
		name string
		cmd  tg.Command
	}{
		{"/start", tg.Command{Handler: h.Start, Description: "Find places nearby"}},
		{"/stop", tg.Command{Handler: h.Stop, Description: "Forget my location and stop"}},
		{"/stats", tg.Command{Handler: h.Stats, Description: "Show the number of active sessions", AdminOnly: true}},
	}
	for _, c := range commands {
		if err := reg.RegisterCommand(c.name, c.cmd); err != nil {
			return err
		}
	}
	reg.SetTextFallback(h.Text)
	reg.SetLocationHandler(h.Location)
	reg.SetCallbackNotFound(h.Control)

	for _, unique := range []string{
		callbacks.UniquePage,
		callbacks.UniqueEdge,
		callbacks.UniqueBack,
		callbacks.UniqueRadius,
		callbacks.UniqueNoOp,
	} {
		if err := reg.RegisterCallback(unique, h.Control); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) Start(c tele.Context) error {
	return h.run(c, newEvent(c, conversation.EventStart))
}

func (h *Handlers) Stop(c tele.Context) error {
	return h.run(c, newEvent(c, conversation.EventStop))
}

func (h *Handlers) Text(c tele.Context) error {
	ev := newEvent(c, conversation.EventText)
	ev.Text = c.Text()
	return h.run(c, ev)
}

func (h *Handlers) Location(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Location == nil {
		return nil
	}
	ev := newEvent(c, conversation.EventLocation)
	ev.Location = geo.Point{Lat: float64(msg.Location.Lat), Lng: float64(msg.Location.Lng)}
	return h.run(c, ev)
}

// Control handles every inline button. Undecodable data becomes a bad-control event
// so the user still gets an answer.
func (h *Handlers) Control(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	ev := controlEvent(c, cb)
	return h.run(c, ev)
}

// UnknownCommand answers slash text that names no command.
func (h *Handlers) UnknownCommand(c tele.Context) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	_, err := h.transport(c).SendText(ctx, chat.ID, textUnknownCommand, nil)
	return err
}

// Stats reports the number of stored sessions to the admin.
func (h *Handlers) Stats(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	text := "Could not count sessions right now."
	n, err := h.store.Count(ctx)
	if err != nil {
		logger.Error(ctx, "tg", "stats",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	} else {
		text = fmt.Sprintf("Active sessions: %d", n)
	}
	_, err = h.transport(c).SendText(ctx, chat.ID, text, nil)
	return err
}

func (h *Handlers) run(c tele.Context, ev conversation.Event) error {
	if ev.UserID == 0 {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	return h.machine.Handle(ctx, h.transport(c), ev)
}

func newEvent(c tele.Context, kind conversation.EventKind) conversation.Event {
	ev := conversation.Event{Kind: kind}
	if u := c.Sender(); u != nil {
		ev.UserID = u.ID
		ev.ChatID = u.ID
		ev.DisplayName = u.FirstName
		ev.Handle = u.Username
	}
	if chat := c.Chat(); chat != nil {
		ev.ChatID = chat.ID
	}
	return ev
}

func controlEvent(c tele.Context, cb *tele.Callback) conversation.Event {
	ev := newEvent(c, conversation.EventControl)
	ev.CallbackID = cb.ID
	if cb.Message != nil {
		ev.Carrier = conversation.MessageRef{MessageID: cb.Message.ID, ChatID: ev.ChatID}
		if cb.Message.Chat != nil {
			ev.Carrier.ChatID = cb.Message.Chat.ID
			ev.ChatID = cb.Message.Chat.ID
		}
	}
	ctl, err := callbacks.FromCallback(cb)
	if err != nil {
		ev.Kind = conversation.EventBadControl
		return ev
	}
	ev.Control = ctl
	return ev
}
