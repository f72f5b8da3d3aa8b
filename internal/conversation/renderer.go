package conversation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/placebot/core/telegram/callbacks"
	"github.com/m3rciful/placebot/core/telegram/format"
	"github.com/m3rciful/placebot/core/telegram/keyboard"
	"github.com/m3rciful/placebot/internal/places"
)

// CaptionLimit is Telegram's maximum photo caption length.
const CaptionLimit = 1024

// Mode selects how a page card reaches the user.
type Mode int

const (
	// ModeNew sends a fresh photo message.
	ModeNew Mode = iota
	// ModeEdit replaces the media of the message carrying the control.
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "new"
}

// Renderer builds prompts, page cards and navigation keyboards.
type Renderer struct {
	categories []string
	radii      []int
}

func NewRenderer(categories []string, radii []int) *Renderer {
	return &Renderer{
		categories: append([]string(nil), categories...),
		radii:      append([]int(nil), radii...),
	}
}

func (r *Renderer) LocationPrompt() (string, *tele.ReplyMarkup) {
	return textLocationPrompt, keyboard.LocationRequest(textShareLocationButton)
}

func (r *Renderer) CategoryPrompt(greeting string) (string, *tele.ReplyMarkup) {
	return fmt.Sprintf(textCategoryPrompt, format.Bold(greeting)), keyboard.ReplyGrid(r.categories, 2)
}

func (r *Renderer) RadiusPrompt(category string) (string, *tele.ReplyMarkup) {
	markup := &tele.ReplyMarkup{}
	buttons := make([]tele.Btn, 0, len(r.radii))
	for _, m := range r.radii {
		buttons = append(buttons, callbacks.Radius(m).Button(markup, FormatRadius(m)))
	}
	return fmt.Sprintf(textRadiusPrompt, format.Bold(category)), keyboard.InlineRows(keyboard.Chunk(buttons, 2)...)
}

func (r *Renderer) NotFound() (string, *tele.ReplyMarkup) {
	return textNotFound, BackMarkup(textBackButton)
}

func (r *Renderer) Farewell() (string, *tele.ReplyMarkup) {
	return textFarewell, keyboard.RemoveKeyboard()
}

// Navigation builds the pager row plus the constant back row.
func (r *Renderer) Navigation(current, total int) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	prev := callbacks.Page(current-1).Button(markup, markerPrev)
	if current <= 1 {
		prev = callbacks.Boundary(callbacks.EdgeFirst).Button(markup, markerBoundary)
	}
	next := callbacks.Page(current+1).Button(markup, markerNext)
	if current >= total {
		next = callbacks.Boundary(callbacks.EdgeLast).Button(markup, markerBoundary)
	}
	label := callbacks.NoOp().Button(markup, fmt.Sprintf("%d/%d", current, total))

	return keyboard.InlineRows(
		[]tele.Btn{prev, label, next},
		[]tele.Btn{callbacks.Back().Button(markup, textBackButton)},
	)
}

// BackMarkup is an inline keyboard with a single back control.
func BackMarkup(label string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	return keyboard.InlineRows([]tele.Btn{callbacks.Back().Button(markup, label)})
}

// Caption renders a detail record as a MarkdownV1 photo caption within CaptionLimit.
func (r *Renderer) Caption(d places.Detail) string {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = "Unnamed place"
	}
	name = truncateRunes(name, 256)

	rating := "not shown"
	if d.Rating != nil {
		rating = strconv.FormatFloat(*d.Rating, 'f', 1, 64)
	}
	distance := "not shown"
	if d.DistanceKnown {
		distance = FormatDistance(d.DistanceMeters)
	}
	phone := strings.TrimSpace(d.Phone)
	if phone == "" {
		phone = "not shown"
	}
	hours := "Hours not shown"
	switch d.Open {
	case places.OpenNow:
		hours = "Open now"
	case places.ClosedNow:
		hours = "Closed now"
	}
	address := strings.TrimSpace(d.Address)
	if address == "" {
		address = "Address not shown"
	}
	if d.MapURL != "" {
		address += " - " + d.MapURL
	}

	head := []string{
		"🔎 " + name,
		"⭐ Rating " + rating,
		"📏 " + distance,
		"📞 " + phone,
		"🕒 " + hours,
	}
	tail := "📍 " + address

	used := 0
	for _, l := range head {
		used += utf8.RuneCountInString(l) + 1
	}
	tail = truncateRunes(tail, CaptionLimit-used)

	lines := []string{"🔎 " + format.Bold(name)}
	for _, l := range head[1:] {
		lines = append(lines, format.Escape(l))
	}
	lines = append(lines, format.Escape(tail))
	return strings.Join(lines, "\n")
}

// FormatDistance renders metres as "850 m" or "1.2 km".
func FormatDistance(meters float64) string {
	if meters < 0 {
		meters = 0
	}
	if math.Round(meters) < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return strconv.FormatFloat(meters/1000, 'f', 1, 64) + " km"
}

// FormatRadius renders a radius choice, e.g. "1 km" or "500 m".
func FormatRadius(meters int) string {
	if meters >= 1000 && meters%1000 == 0 {
		return strconv.Itoa(meters/1000) + " km"
	}
	if meters >= 1000 {
		return strconv.FormatFloat(float64(meters)/1000, 'f', 1, 64) + " km"
	}
	return strconv.Itoa(meters) + " m"
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
