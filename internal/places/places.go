// Package places talks to the places provider and turns its answers into distance-ranked
// candidates and render-ready detail records.
package places

import (
	"context"
	"errors"

	"github.com/m3rciful/placebot/internal/geo"
)

var (
	// ErrProvider marks a provider answer with a status other than OK or ZERO_RESULTS.
	ErrProvider = errors.New("places: provider error")
	// ErrCircuitOpen is returned while the provider circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("places: circuit open")
	// ErrInvalidQuery is returned when a search lacks a usable origin or category.
	ErrInvalidQuery = errors.New("places: invalid query")
)

// Candidate is one search result stub, ranked by distance from the query origin.
type Candidate struct {
	PlaceID        string
	Location       geo.Point
	DistanceMeters float64
}

// PlaceDetail is the provider's detail record before enrichment.
type PlaceDetail struct {
	PlaceID        string
	Name           string
	Rating         *float64
	Address        string
	Phone          string
	PhotoReference string
	Location       *geo.Point
	URL            string
	OpenNow        *bool
}

// OpenState is the tri-state opening-hours flag.
type OpenState int

const (
	OpenUnknown OpenState = iota
	OpenNow
	ClosedNow
)

// Detail is a render-ready place record.
type Detail struct {
	PlaceID        string
	Name           string
	Rating         *float64
	Address        string
	Phone          string
	Open           OpenState
	MapURL         string
	PhotoReference string
	PhotoURL       string
	DistanceMeters float64
	DistanceKnown  bool
}

// Provider is the subset of the places API the ranker and enricher rely on.
type Provider interface {
	NearbySearch(ctx context.Context, origin geo.Point, radiusMeters int, category string) ([]Candidate, error)
	PlaceDetail(ctx context.Context, placeID string) (PlaceDetail, error)
	PhotoURL(reference string) string
}
