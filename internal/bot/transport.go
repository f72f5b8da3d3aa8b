// Package bot adapts Telegram updates to conversation events and the conversation
// transport to the Bot API.
package bot

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/telegram/middleware"
	"github.com/m3rciful/placebot/internal/conversation"
)

// API is the subset of *tele.Bot the transport calls.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

// Transport implements conversation.Transport on top of the Bot API.
// All text and captions are sent with Markdown parse mode.
type Transport struct {
	api API
	upd tele.Context
}

var _ conversation.Transport = (*Transport)(nil)

// NewTransport wraps api. upd, when non-nil, is the update being handled;
// successful sends are counted against it for the handler summary.
func NewTransport(api API, upd tele.Context) *Transport {
	return &Transport{api: api, upd: upd}
}

func (t *Transport) SendText(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (conversation.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return conversation.MessageRef{}, err
	}
	msg, err := t.api.Send(tele.ChatID(chatID), text, sendOptions(markup))
	if err != nil {
		return conversation.MessageRef{}, fmt.Errorf("send text: %w", err)
	}
	t.count(markup)
	return refOf(msg, chatID), nil
}

func (t *Transport) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, markup *tele.ReplyMarkup) (conversation.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return conversation.MessageRef{}, err
	}
	photo := &tele.Photo{File: tele.FromURL(photoURL), Caption: caption}
	msg, err := t.api.Send(tele.ChatID(chatID), photo, sendOptions(markup))
	if err != nil {
		return conversation.MessageRef{}, fmt.Errorf("send photo: %w", err)
	}
	t.count(markup)
	return refOf(msg, chatID), nil
}

func (t *Transport) EditPhoto(ctx context.Context, ref conversation.MessageRef, photoURL, caption string, markup *tele.ReplyMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.MessageID == 0 {
		return fmt.Errorf("edit photo: no message to edit")
	}
	photo := &tele.Photo{File: tele.FromURL(photoURL), Caption: caption}
	if _, err := t.api.Edit(stored(ref), photo, sendOptions(markup)); err != nil {
		return fmt.Errorf("edit photo: %w", err)
	}
	t.count(markup)
	return nil
}

func (t *Transport) Notify(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if callbackID == "" {
		return nil
	}
	resp := &tele.CallbackResponse{Text: text, ShowAlert: alert}
	if err := t.api.Respond(&tele.Callback{ID: callbackID}, resp); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func (t *Transport) Delete(ctx context.Context, ref conversation.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.MessageID == 0 {
		return nil
	}
	if err := t.api.Delete(stored(ref)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (t *Transport) count(markup *tele.ReplyMarkup) {
	if t.upd != nil {
		middleware.CountMessage(t.upd, markup != nil)
	}
}

func sendOptions(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}
}

func stored(ref conversation.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
}

func refOf(msg *tele.Message, chatID int64) conversation.MessageRef {
	if msg == nil {
		return conversation.MessageRef{ChatID: chatID}
	}
	ref := conversation.MessageRef{ChatID: chatID, MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref
}
