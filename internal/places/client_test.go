package places

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/placebot/internal/geo"
)

var origin = geo.Point{Lat: 41.3, Lng: 69.2}

// north returns a point the given number of metres due north of origin.
func north(meters float64) geo.Point {
	return geo.Point{Lat: origin.Lat + meters/geo.EarthRadiusMeters*180/math.Pi, Lng: origin.Lng}
}

type providerServer struct {
	*httptest.Server
	nearbyHits atomic.Int32
	detailHits atomic.Int32
	lastNearby atomic.Value
	nearbyBody any
	details    map[string]any
	nearbyCode int
}

func newProviderServer(t *testing.T) *providerServer {
	t.Helper()
	ps := &providerServer{details: map[string]any{}, nearbyCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/nearbysearch/json", func(w http.ResponseWriter, r *http.Request) {
		ps.nearbyHits.Add(1)
		ps.lastNearby.Store(r.URL.Query())
		w.WriteHeader(ps.nearbyCode)
		_ = json.NewEncoder(w).Encode(ps.nearbyBody)
	})
	mux.HandleFunc("/details/json", func(w http.ResponseWriter, r *http.Request) {
		ps.detailHits.Add(1)
		body, ok := ps.details[r.URL.Query().Get("place_id")]
		if !ok {
			body = map[string]any{"status": "NOT_FOUND"}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

func (ps *providerServer) client(opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(ps.URL),
		WithHTTPClient(ps.Server.Client()),
		WithRateLimit(0),
	}
	return NewClient("test-key", append(base, opts...)...)
}

func result(id string, p geo.Point) map[string]any {
	return map[string]any{
		"place_id": id,
		"geometry": map[string]any{"location": map[string]any{"lat": p.Lat, "lng": p.Lng}},
	}
}

func TestNearbySearchSendsQuery(t *testing.T) {
	ps := newProviderServer(t)
	ps.nearbyBody = map[string]any{"status": "OK", "results": []any{
		result("a", north(10)),
		map[string]any{"place_id": "no-geometry"},
	}}

	got, err := ps.client().NearbySearch(context.Background(), origin, 1000, "pharmacy")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].PlaceID)

	q := ps.lastNearby.Load().(url.Values)
	assert.Equal(t, "41.3,69.2", q.Get("location"))
	assert.Equal(t, "1000", q.Get("radius"))
	assert.Equal(t, "pharmacy", q.Get("type"))
	assert.Equal(t, "pharmacy", q.Get("keyword"))
	assert.Equal(t, "test-key", q.Get("key"))
}

func TestNearbySearchZeroResults(t *testing.T) {
	ps := newProviderServer(t)
	ps.nearbyBody = map[string]any{"status": "ZERO_RESULTS", "results": []any{}}

	got, err := ps.client().NearbySearch(context.Background(), origin, 1000, "pharmacy")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNearbySearchProviderStatus(t *testing.T) {
	ps := newProviderServer(t)
	ps.nearbyBody = map[string]any{"status": "REQUEST_DENIED", "error_message": "bad key"}

	_, err := ps.client().NearbySearch(context.Background(), origin, 1000, "pharmacy")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "bad key")
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	ps := newProviderServer(t)
	ps.nearbyCode = http.StatusInternalServerError
	ps.nearbyBody = map[string]any{}
	c := ps.client(WithBreaker(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.NearbySearch(ctx, origin, 1000, "pharmacy")
		assert.ErrorIs(t, err, ErrProvider)
	}
	_, err := c.NearbySearch(ctx, origin, 1000, "pharmacy")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), ps.nearbyHits.Load())
}

func TestPlaceDetailDecodesFields(t *testing.T) {
	ps := newProviderServer(t)
	loc := north(120)
	ps.details["p1"] = map[string]any{
		"status": "OK",
		"result": map[string]any{
			"name":                   "Apteka 24",
			"rating":                 4.6,
			"formatted_address":      "Amir Temur 1",
			"formatted_phone_number": "+998 71 000 00 00",
			"photos":                 []any{map[string]any{"photo_reference": "ref-1"}},
			"geometry":               map[string]any{"location": map[string]any{"lat": loc.Lat, "lng": loc.Lng}},
			"url":                    "https://maps.google.com/?cid=1",
			"opening_hours":          map[string]any{"open_now": true},
		},
	}

	d, err := ps.client().PlaceDetail(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Apteka 24", d.Name)
	require.NotNil(t, d.Rating)
	assert.Equal(t, 4.6, *d.Rating)
	assert.Equal(t, "+998 71 000 00 00", d.Phone)
	assert.Equal(t, "ref-1", d.PhotoReference)
	require.NotNil(t, d.OpenNow)
	assert.True(t, *d.OpenNow)
	require.NotNil(t, d.Location)
	assert.InDelta(t, loc.Lat, d.Location.Lat, 1e-12)
}

func TestPhotoURL(t *testing.T) {
	c := NewClient("k", WithBaseURL("https://example.test/place/"), WithPhotoMaxWidth(400))
	assert.Equal(t, "https://example.test/place/photo?key=k&maxwidth=400&photoreference=abc", c.PhotoURL("abc"))
	assert.Equal(t, FallbackImageURL, c.PhotoURL(""))
}
