package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/m3rciful/placebot/core/logger"

	tele "gopkg.in/telebot.v4"
)

var (
	errInvalidCommand  = errors.New("telegram: command needs a /name, a handler and a description")
	errInvalidCallback = errors.New("telegram: callback needs a unique and a handler")
)

// Command is one slash command. AdminOnly commands go through the admin gate
// and stay out of the Telegram command menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
}

// Registry maps commands, callback uniques and message fallbacks to handlers.
// It is filled at startup and read by the routes on every update.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]tele.HandlerFunc

	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
	location         tele.HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]Command),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

func rejected(kind, key string, err error) error {
	logger.Warn(context.Background(), "tg.wire", "register.skip",
		slog.String("op", kind),
		slog.String("cb_key", key),
		slog.String("err", err.Error()),
	)
	return err
}

// RegisterCommand binds name, which starts with "/", to cmd.
func (r *Registry) RegisterCommand(name string, cmd Command) error {
	if len(name) < 2 || name[0] != '/' || cmd.Handler == nil || strings.TrimSpace(cmd.Description) == "" {
		return rejected("command", name, fmt.Errorf("%w: %q", errInvalidCommand, name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[name]; dup {
		return rejected("command", name, fmt.Errorf("telegram: command %s already registered", name))
	}
	r.commands[name] = cmd
	return nil
}

// Commands returns a copy of the registered commands keyed by "/name".
func (r *Registry) Commands() map[string]Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.commands)
}

// MenuCommands lists the non-admin commands, sorted, without the leading slash.
func (r *Registry) MenuCommands() []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	menu := make([]tele.Command, 0, len(r.commands))
	for _, name := range slices.Sorted(maps.Keys(r.commands)) {
		if cmd := r.commands[name]; !cmd.AdminOnly {
			menu = append(menu, tele.Command{Text: name[1:], Description: cmd.Description})
		}
	}
	return menu
}

// LookupCommand resolves the command that text starts with. Arguments and an
// "@botname" suffix are ignored; text without a leading "/" never matches.
func (r *Registry) LookupCommand(text string) (string, Command, bool) {
	name, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	name, _, _ = strings.Cut(name, "@")
	if len(name) < 2 || name[0] != '/' {
		return "", Command{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	if !ok {
		return "", Command{}, false
	}
	return name, cmd, true
}

// RegisterCallback binds the button unique key to handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		return rejected("callback", key, errInvalidCallback)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.callbacks[key]; dup {
		return rejected("callback", key, fmt.Errorf("callback already registered: %s", key))
	}
	r.callbacks[key] = handler
	return nil
}

func (r *Registry) Callback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// CallbackKeys returns the registered uniques in order.
func (r *Registry) CallbackKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.callbacks))
}

// SetCallbackNotFound replaces the handler for callbacks with no registered unique.
// A nil handler keeps the current one.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h != nil {
		r.callbackNotFound = h
	}
}

func (r *Registry) CallbackNotFound() tele.HandlerFunc { return r.callbackNotFound }

// SetTextFallback sets the handler for plain text, that is text not starting with "/".
func (r *Registry) SetTextFallback(h tele.HandlerFunc) { r.textFallback = h }

func (r *Registry) TextFallback() tele.HandlerFunc { return r.textFallback }

func (r *Registry) SetLocationHandler(h tele.HandlerFunc) { r.location = h }

func (r *Registry) LocationHandler() tele.HandlerFunc { return r.location }

// SetupCommands publishes the menu commands to Telegram. Failures are logged only.
func SetupCommands(bot *tele.Bot, reg *Registry) {
	if bot == nil || reg == nil {
		return
	}
	menu := reg.MenuCommands()
	if err := bot.SetCommands(menu); err != nil {
		logger.Error(context.Background(), "tg.wire", "register.commands.set_failed",
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	logger.Debug(context.Background(), "tg.wire", "register.commands.set", slog.Int("count", len(menu)))
}
