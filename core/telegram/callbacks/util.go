package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Split returns the unique and payload of a callback. telebot fills Unique for
// buttons it routed; otherwise Data is read as "\f<unique>|<payload>", and data
// without the leading \f is a bare payload.
func Split(cb *tele.Callback) (unique, payload string) {
	switch {
	case cb == nil:
		return "", ""
	case cb.Unique != "":
		return cb.Unique, cb.Data
	}
	return splitData(cb.Data)
}

func splitData(raw string) (unique, payload string) {
	rest, ok := strings.CutPrefix(raw, "\f")
	if !ok {
		return "", strings.TrimSpace(raw)
	}
	unique, payload, _ = strings.Cut(rest, "|")
	return strings.TrimSpace(unique), payload
}
