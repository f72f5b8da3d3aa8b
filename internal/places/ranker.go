package places

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/m3rciful/placebot/internal/geo"
)

// Query selects one page of a distance-ranked search.
type Query struct {
	Origin       geo.Point
	Category     string
	RadiusMeters int
	Page         int
}

// Ranked is the outcome of a ranked search. Found is false when Page is out of range,
// which includes the empty result set.
type Ranked struct {
	Candidate Candidate
	Page      int
	Total     int
	Found     bool
}

// Ranker fetches candidates and orders them by distance from the query origin.
// Every call issues a fresh provider search.
type Ranker struct {
	provider Provider
}

func NewRanker(p Provider) *Ranker {
	return &Ranker{provider: p}
}

// Rank returns the candidate at the requested 1-based page.
func (r *Ranker) Rank(ctx context.Context, q Query) (Ranked, error) {
	if !q.Origin.Valid() || strings.TrimSpace(q.Category) == "" {
		return Ranked{}, ErrInvalidQuery
	}

	candidates, err := r.provider.NearbySearch(ctx, q.Origin, q.RadiusMeters, q.Category)
	if err != nil {
		return Ranked{}, fmt.Errorf("rank: %w", err)
	}

	SortByDistance(q.Origin, candidates)

	total := len(candidates)
	if q.Page < 1 || q.Page > total {
		return Ranked{Page: q.Page, Total: total}, nil
	}
	return Ranked{
		Candidate: candidates[q.Page-1],
		Page:      q.Page,
		Total:     total,
		Found:     true,
	}, nil
}

// SortByDistance fills DistanceMeters from origin and stable-sorts ascending.
// Equal distances keep provider order.
func SortByDistance(origin geo.Point, candidates []Candidate) {
	for i := range candidates {
		candidates[i].DistanceMeters = geo.Distance(origin, candidates[i].Location)
	}
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return cmp.Compare(a.DistanceMeters, b.DistanceMeters)
	})
}
