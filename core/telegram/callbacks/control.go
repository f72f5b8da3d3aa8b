package callbacks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Kind tags a navigation control.
type Kind int

const (
	KindUnknown Kind = iota
	KindPage
	KindBoundary
	KindBack
	KindRadius
	KindNoOp
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return UniquePage
	case KindBoundary:
		return UniqueEdge
	case KindBack:
		return UniqueBack
	case KindRadius:
		return UniqueRadius
	case KindNoOp:
		return UniqueNoOp
	}
	return "unknown"
}

// Edge names a list boundary.
type Edge string

const (
	EdgeFirst Edge = "first"
	EdgeLast  Edge = "last"
)

// Unique identifiers used in inline button data.
const (
	UniquePage   = "page"
	UniqueEdge   = "edge"
	UniqueBack   = "back"
	UniqueRadius = "radius"
	UniqueNoOp   = "noop"
)

// legacyRadiusFloor separates bare radius values from bare page numbers in old buttons.
const legacyRadiusFloor = 1000

// ErrUnsupported is returned for callback data that decodes to no known control.
var ErrUnsupported = errors.New("callbacks: unsupported control")

// Control is the decoded intent of an inline button.
type Control struct {
	Kind   Kind
	Page   int
	Edge   Edge
	Radius int
}

func Page(n int) Control        { return Control{Kind: KindPage, Page: n} }
func Boundary(e Edge) Control   { return Control{Kind: KindBoundary, Edge: e} }
func Back() Control             { return Control{Kind: KindBack} }
func Radius(meters int) Control { return Control{Kind: KindRadius, Radius: meters} }
func NoOp() Control             { return Control{Kind: KindNoOp} }

// Unique returns the button unique for the control.
func (c Control) Unique() string {
	if c.Kind == KindUnknown {
		return ""
	}
	return c.Kind.String()
}

// Payload returns the data part after the unique.
func (c Control) Payload() string {
	switch c.Kind {
	case KindPage:
		return strconv.Itoa(c.Page)
	case KindBoundary:
		return string(c.Edge)
	case KindRadius:
		return strconv.Itoa(c.Radius)
	}
	return ""
}

// Button builds an inline button carrying the control.
func (c Control) Button(markup *tele.ReplyMarkup, text string) tele.Btn {
	if payload := c.Payload(); payload != "" {
		return markup.Data(text, c.Unique(), payload)
	}
	return markup.Data(text, c.Unique())
}

// Data returns the callback data as Telegram delivers it for a button built by Button.
func (c Control) Data() string {
	if p := c.Payload(); p != "" {
		return "\f" + c.Unique() + "|" + p
	}
	return "\f" + c.Unique()
}

func (c Control) String() string {
	if p := c.Payload(); p != "" {
		return c.Kind.String() + "|" + p
	}
	return c.Kind.String()
}

// FromCallback decodes the control carried by a callback query.
func FromCallback(cb *tele.Callback) (Control, error) {
	if cb == nil {
		return Control{}, ErrUnsupported
	}
	unique, payload := Split(cb)
	return Decode(unique, payload)
}

// Decode maps a unique/payload pair to a Control. An empty unique selects the legacy
// bare payloads: prev, last, back, same, page numbers and radius values.
func Decode(unique, payload string) (Control, error) {
	unique = strings.TrimSpace(unique)
	payload = strings.TrimSpace(payload)
	if unique == "" {
		return decodeLegacy(payload)
	}

	switch unique {
	case UniquePage:
		n, err := strconv.Atoi(payload)
		if err != nil {
			return Control{}, fmt.Errorf("%w: page %q", ErrUnsupported, payload)
		}
		return Page(n), nil
	case UniqueEdge:
		switch Edge(payload) {
		case EdgeFirst, EdgeLast:
			return Boundary(Edge(payload)), nil
		}
		return Control{}, fmt.Errorf("%w: edge %q", ErrUnsupported, payload)
	case UniqueBack:
		return Back(), nil
	case UniqueRadius:
		m, err := strconv.Atoi(payload)
		if err != nil || m <= 0 {
			return Control{}, fmt.Errorf("%w: radius %q", ErrUnsupported, payload)
		}
		return Radius(m), nil
	case UniqueNoOp:
		return NoOp(), nil
	}
	return Control{}, fmt.Errorf("%w: %q", ErrUnsupported, unique)
}

func decodeLegacy(payload string) (Control, error) {
	switch payload {
	case "prev":
		return Boundary(EdgeFirst), nil
	case "last":
		return Boundary(EdgeLast), nil
	case "back":
		return Back(), nil
	case "same":
		return NoOp(), nil
	case "":
		return Control{}, ErrUnsupported
	}
	n, err := strconv.Atoi(payload)
	if err != nil {
		return Control{}, fmt.Errorf("%w: %q", ErrUnsupported, payload)
	}
	if n >= legacyRadiusFloor {
		return Radius(n), nil
	}
	return Page(n), nil
}
