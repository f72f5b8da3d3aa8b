package netutil

import (
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 5 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = 2 * time.Second
)

type clientOptions struct {
	timeout         time.Duration
	responseTimeout time.Duration
	retries         int
	backoff         time.Duration
	retryStatus     bool
	base            http.RoundTripper
}

// ClientOption tunes BuildHTTPClient.
type ClientOption func(*clientOptions)

// WithTimeout sets the overall per-request client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
			if d < o.responseTimeout {
				o.responseTimeout = d
			}
		}
	}
}

// WithResponseTimeout bounds the wait for response headers. Long polling
// needs it above the poll timeout.
func WithResponseTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.responseTimeout = d
		}
	}
}

// WithRetries sets how many times a failed request is retried and the linear backoff step.
func WithRetries(retries int, backoff time.Duration) ClientOption {
	return func(o *clientOptions) {
		if retries >= 0 {
			o.retries = retries
		}
		if backoff >= 0 {
			o.backoff = backoff
		}
	}
}

// WithStatusRetry also retries idempotent requests that received 429 or 5xx responses.
func WithStatusRetry() ClientOption {
	return func(o *clientOptions) { o.retryStatus = true }
}

// WithBaseTransport replaces the underlying transport. Tests use it to inject fakes.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.base = rt }
}

// BuildHTTPClient returns an HTTP client with bounded timeouts and a retrying transport.
// Used for both the Telegram Bot API and the places provider.
func BuildHTTPClient(opts ...ClientOption) *http.Client {
	o := clientOptions{
		timeout:         defaultClientTimeout,
		responseTimeout: defaultResponseTimeout,
		retries:         defaultRetryAttempts,
		backoff:         defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}

	base := o.base
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshake,
			ResponseHeaderTimeout: o.responseTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return &http.Client{
		Timeout: o.timeout,
		Transport: &retryTransport{
			base:        base,
			maxRetries:  o.retries,
			backoff:     o.backoff,
			retryStatus: o.retryStatus,
		},
	}
}

type retryTransport struct {
	base        http.RoundTripper
	maxRetries  int
	backoff     time.Duration
	retryStatus bool
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.maxRetries + 1
	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				currReq.Body = body
			} else if req.Body != nil && req.Body != http.NoBody {
				return nil, lastErr
			}
		}

		resp, err := base.RoundTrip(currReq)
		if err == nil {
			if !t.retryStatus || !idempotent || !StatusRetryable(resp.StatusCode) || attempt == attempts {
				return resp, nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode}
		} else {
			lastErr = err
			if !ShouldRetry(err) || attempt == attempts {
				break
			}
		}

		delay := t.backoff * time.Duration(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// StatusError reports a retryable HTTP status that exhausted its attempts.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "unexpected status " + http.StatusText(e.Code)
}
