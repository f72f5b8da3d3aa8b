package conversation

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/telegram/callbacks"
	"github.com/m3rciful/placebot/internal/geo"
)

// EventKind tags an inbound event.
type EventKind int

const (
	EventStart EventKind = iota + 1
	EventText
	EventLocation
	EventControl
	EventBadControl
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventText:
		return "text"
	case EventLocation:
		return "location"
	case EventControl:
		return "control"
	case EventBadControl:
		return "bad_control"
	case EventStop:
		return "stop"
	}
	return "unknown"
}

// MessageRef addresses a sent message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Event is one inbound conversational event, already decoded from the transport.
type Event struct {
	Kind        EventKind
	UserID      int64
	ChatID      int64
	DisplayName string
	Handle      string

	Text     string
	Location geo.Point

	Control    callbacks.Control
	CallbackID string
	// Carrier is the message holding the activated inline control.
	Carrier MessageRef
}

// Transport is the outbound capability set the machine needs.
// Text and captions are MarkdownV1.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (MessageRef, error)
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, markup *tele.ReplyMarkup) (MessageRef, error)
	EditPhoto(ctx context.Context, ref MessageRef, photoURL, caption string, markup *tele.ReplyMarkup) error
	Notify(ctx context.Context, callbackID, text string, alert bool) error
	Delete(ctx context.Context, ref MessageRef) error
}
