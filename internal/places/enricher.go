package places

import (
	"context"
	"fmt"

	"github.com/m3rciful/placebot/internal/geo"
)

// Enricher turns a place id into a render-ready Detail.
type Enricher struct {
	provider Provider
}

func NewEnricher(p Provider) *Enricher {
	return &Enricher{provider: p}
}

// Enrich fetches the detail record and recomputes the distance from origin using the
// detail geometry. Missing optional fields are left empty, never an error.
func (e *Enricher) Enrich(ctx context.Context, placeID string, origin geo.Point) (Detail, error) {
	raw, err := e.provider.PlaceDetail(ctx, placeID)
	if err != nil {
		return Detail{}, fmt.Errorf("enrich %s: %w", placeID, err)
	}

	d := Detail{
		PlaceID:        placeID,
		Name:           raw.Name,
		Rating:         raw.Rating,
		Address:        raw.Address,
		Phone:          raw.Phone,
		MapURL:         raw.URL,
		PhotoReference: raw.PhotoReference,
		PhotoURL:       e.provider.PhotoURL(raw.PhotoReference),
	}
	if raw.OpenNow != nil {
		if *raw.OpenNow {
			d.Open = OpenNow
		} else {
			d.Open = ClosedNow
		}
	}
	if raw.Location != nil {
		d.DistanceMeters = geo.Distance(origin, *raw.Location)
		d.DistanceKnown = true
	}
	return d, nil
}
