package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/core/netutil"
	"github.com/m3rciful/placebot/core/telegram/format"
	"github.com/m3rciful/placebot/internal/geo"
	"github.com/m3rciful/placebot/internal/metrics"
)

const (
	// DefaultBaseURL is the legacy Places web service root.
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/place"
	// DefaultTimeout bounds a single provider call including retries.
	DefaultTimeout = 10 * time.Second
	// DefaultRatePerSecond caps outbound provider calls.
	DefaultRatePerSecond = 10
	// DefaultPhotoMaxWidth is the requested photo width in pixels.
	DefaultPhotoMaxWidth = 400
	// FallbackImageURL is shown when a place has no photo.
	FallbackImageURL = "https://static.vecteezy.com/system/resources/previews/005/337/799/original/icon-image-not-found-free-vector.jpg"

	detailFields = "name,rating,formatted_address,formatted_phone_number,photos,geometry,url,opening_hours"

	componentPlaces = "places"
	breakerName     = "places"
)

// Client calls the places provider over HTTP behind a rate limiter and a circuit breaker.
type Client struct {
	baseURL          string
	apiKey           string
	httpClient       *http.Client
	limiter          *rate.Limiter
	breaker          *gobreaker.CircuitBreaker
	breakerThreshold uint32
	breakerTimeout   time.Duration
	photoMaxWidth    int
	metrics          *metrics.Collector
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another endpoint root, e.g. a test server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRateLimit sets the allowed requests per second. Zero or less disables limiting.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithPhotoMaxWidth sets the photo width requested from the photo endpoint.
func WithPhotoMaxWidth(width int) ClientOption {
	return func(c *Client) {
		if width > 0 {
			c.photoMaxWidth = width
		}
	}
}

// WithBreaker sets how many consecutive failures open the circuit and how long it stays open.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) ClientOption {
	return func(c *Client) {
		if consecutiveFailures > 0 {
			c.breakerThreshold = consecutiveFailures
		}
		if openFor > 0 {
			c.breakerTimeout = openFor
		}
	}
}

// WithMetrics records provider calls and breaker state.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a places client for the given API key.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: netutil.BuildHTTPClient(
			netutil.WithTimeout(DefaultTimeout),
			netutil.WithRetries(2, 300*time.Millisecond),
			netutil.WithStatusRetry(),
		),
		limiter:          rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultRatePerSecond),
		breakerThreshold: 5,
		breakerTimeout:   30 * time.Second,
		photoMaxWidth:    DefaultPhotoMaxWidth,
	}
	for _, opt := range opts {
		opt(c)
	}

	threshold := c.breakerThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.metrics.SetBreakerState(name, int(to))
			logger.Warn(context.Background(), componentPlaces, "breaker.state",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type geometry struct {
	Location *latLng `json:"location"`
}

type envelope struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

type nearbyResponse struct {
	envelope
	Results []struct {
		PlaceID  string   `json:"place_id"`
		Geometry geometry `json:"geometry"`
	} `json:"results"`
}

type detailResponse struct {
	envelope
	Result struct {
		Name                 string   `json:"name"`
		Rating               *float64 `json:"rating"`
		FormattedAddress     *string  `json:"formatted_address"`
		FormattedPhoneNumber *string  `json:"formatted_phone_number"`
		Photos               []struct {
			PhotoReference string `json:"photo_reference"`
		} `json:"photos"`
		Geometry     geometry `json:"geometry"`
		URL          *string  `json:"url"`
		OpeningHours *struct {
			OpenNow *bool `json:"open_now"`
		} `json:"opening_hours"`
	} `json:"result"`
}

// NearbySearch returns candidates in provider order. Results without coordinates are skipped.
func (c *Client) NearbySearch(ctx context.Context, origin geo.Point, radiusMeters int, category string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("location", formatLatLng(origin))
	params.Set("radius", strconv.Itoa(radiusMeters))
	params.Set("type", category)
	params.Set("keyword", category)

	var resp nearbyResponse
	if err := c.get(ctx, "nearbysearch", params, &resp); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.PlaceID == "" || r.Geometry.Location == nil {
			continue
		}
		out = append(out, Candidate{
			PlaceID:  r.PlaceID,
			Location: geo.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
		})
	}
	return out, nil
}

// PlaceDetail fetches the detail record for one place.
func (c *Client) PlaceDetail(ctx context.Context, placeID string) (PlaceDetail, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", detailFields)

	var resp detailResponse
	if err := c.get(ctx, "details", params, &resp); err != nil {
		return PlaceDetail{}, err
	}

	r := resp.Result
	d := PlaceDetail{
		PlaceID: placeID,
		Name:    r.Name,
		Rating:  r.Rating,
		Address: format.Deref(r.FormattedAddress, ""),
		Phone:   format.Deref(r.FormattedPhoneNumber, ""),
		URL:     format.Deref(r.URL, ""),
	}
	if len(r.Photos) > 0 {
		d.PhotoReference = r.Photos[0].PhotoReference
	}
	if r.Geometry.Location != nil {
		d.Location = &geo.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng}
	}
	if r.OpeningHours != nil {
		d.OpenNow = r.OpeningHours.OpenNow
	}
	return d, nil
}

// PhotoURL builds a displayable image URL for a photo reference, or the fallback image.
func (c *Client) PhotoURL(reference string) string {
	if strings.TrimSpace(reference) == "" {
		return FallbackImageURL
	}
	params := url.Values{}
	params.Set("maxwidth", strconv.Itoa(c.photoMaxWidth))
	params.Set("photoreference", reference)
	params.Set("key", c.apiKey)
	return c.baseURL + "/photo?" + params.Encode()
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("places %s: rate limit wait: %w", endpoint, err)
	}

	params.Set("key", c.apiKey)
	reqURL := c.baseURL + "/" + endpoint + "/json?" + params.Encode()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, reqURL, out)
	})
	took := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		c.metrics.ObserveProvider(endpoint, "fail", took)
		logger.Warn(ctx, componentPlaces, "provider.call",
			slog.String("op", endpoint),
			slog.String("status", "fail"),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("places %s: %w", endpoint, err)
	}

	c.metrics.ObserveProvider(endpoint, "ok", took)
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, componentPlaces, "provider.call",
			slog.String("op", endpoint),
			slog.String("status", "ok"),
			slog.Duration("duration", logger.RoundMS(took)),
		)
	}
	return nil
}

func (c *Client) do(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrProvider, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	switch env.Status {
	case "OK", "ZERO_RESULTS":
	default:
		if env.ErrorMessage != "" {
			return fmt.Errorf("%w: %s: %s", ErrProvider, env.Status, env.ErrorMessage)
		}
		return fmt.Errorf("%w: %s", ErrProvider, env.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func formatLatLng(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
