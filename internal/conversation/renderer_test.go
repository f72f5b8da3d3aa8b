package conversation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/placebot/core/telegram/callbacks"
	"github.com/m3rciful/placebot/internal/places"
)

func TestNavigationAtEdges(t *testing.T) {
	r := NewRenderer(nil, nil)

	first := r.Navigation(1, 3)
	require.Len(t, first.InlineKeyboard, 2)
	row := first.InlineKeyboard[0]
	require.Len(t, row, 3)
	assert.Equal(t, markerBoundary, row[0].Text)
	assert.Equal(t, callbacks.UniqueEdge, row[0].Unique)
	assert.Equal(t, string(callbacks.EdgeFirst), row[0].Data)
	assert.Equal(t, "1/3", row[1].Text)
	assert.Equal(t, callbacks.UniqueNoOp, row[1].Unique)
	assert.Equal(t, markerNext, row[2].Text)
	assert.Equal(t, "2", row[2].Data)
	assert.Equal(t, callbacks.UniqueBack, first.InlineKeyboard[1][0].Unique)

	last := r.Navigation(3, 3)
	assert.Equal(t, markerPrev, last.InlineKeyboard[0][0].Text)
	assert.Equal(t, "2", last.InlineKeyboard[0][0].Data)
	assert.Equal(t, string(callbacks.EdgeLast), last.InlineKeyboard[0][2].Data)

	single := r.Navigation(1, 1)
	assert.Equal(t, callbacks.UniqueEdge, single.InlineKeyboard[0][0].Unique)
	assert.Equal(t, callbacks.UniqueEdge, single.InlineKeyboard[0][2].Unique)
}

func TestCaptionFull(t *testing.T) {
	rating := 4.56
	caption := NewRenderer(nil, nil).Caption(places.Detail{
		Name:           "Cafe_One",
		Rating:         &rating,
		Address:        "Navoi 5",
		Phone:          "+998 90 000",
		Open:           places.OpenNow,
		MapURL:         "https://maps.google.com/?cid=1",
		DistanceMeters: 1234,
		DistanceKnown:  true,
	})
	lines := strings.Split(caption, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "🔎 *Cafe_One*", lines[0])
	assert.Equal(t, "⭐ Rating 4.6", lines[1])
	assert.Equal(t, "📏 1.2 km", lines[2])
	assert.Equal(t, "📞 +998 90 000", lines[3])
	assert.Equal(t, "🕒 Open now", lines[4])
	assert.Equal(t, "📍 Navoi 5 - https://maps.google.com/?cid=1", lines[5])
}

func TestCaptionPlaceholders(t *testing.T) {
	caption := NewRenderer(nil, nil).Caption(places.Detail{Name: "Maktab"})
	assert.Contains(t, caption, "Rating not shown")
	assert.Contains(t, caption, "📞 not shown")
	assert.Contains(t, caption, "Hours not shown")
	assert.Contains(t, caption, "📏 not shown")
}

func TestCaptionCapped(t *testing.T) {
	caption := NewRenderer(nil, nil).Caption(places.Detail{
		Name:    "Long",
		Address: strings.Repeat("a", 3000),
	})
	assert.LessOrEqual(t, utf8.RuneCountInString(caption), CaptionLimit+4, "bold markers are the only additions")
	assert.True(t, strings.HasSuffix(caption, "…"))
}

func TestFormatDistance(t *testing.T) {
	assert.Equal(t, "850 m", FormatDistance(849.6))
	assert.Equal(t, "1.0 km", FormatDistance(999.7))
	assert.Equal(t, "12.3 km", FormatDistance(12345))
	assert.Equal(t, "0 m", FormatDistance(-3))
}

func TestFormatRadius(t *testing.T) {
	assert.Equal(t, "1 km", FormatRadius(1000))
	assert.Equal(t, "10 km", FormatRadius(10000))
	assert.Equal(t, "1.5 km", FormatRadius(1500))
	assert.Equal(t, "500 m", FormatRadius(500))
}

func TestRadiusPromptButtons(t *testing.T) {
	_, markup := NewRenderer(nil, []int{1000, 3000, 5000, 10000}).RadiusPrompt("school")
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "10000", markup.InlineKeyboard[1][1].Data)
	assert.Equal(t, "10 km", markup.InlineKeyboard[1][1].Text)
}

func TestPromptsKeepUserTextParseable(t *testing.T) {
	r := NewRenderer(nil, nil)

	text, _ := r.RadiusPrompt("a*b")
	assert.Equal(t, "How far should I look for *a∗b*?", text)
	assert.NotContains(t, text, `\`)

	text, _ = r.CategoryPrompt("john_doe")
	assert.True(t, strings.HasPrefix(text, "Hi, *john_doe*!"), text)

	caption := r.Caption(places.Detail{Name: "Pharmacy_24 *Night*"})
	assert.True(t, strings.HasPrefix(caption, "🔎 *Pharmacy_24 ∗Night∗*\n"), caption)
}
