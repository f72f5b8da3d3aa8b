package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummary(t *testing.T) {
	assert.Equal(t, "placebot dev (local)", Summary("placebot"))

	prev := Date
	Date = "2026-10-01T00:00:00Z"
	t.Cleanup(func() { Date = prev })
	assert.Equal(t, "placebot dev (local) 2026-10-01T00:00:00Z", Summary("placebot"))
}
