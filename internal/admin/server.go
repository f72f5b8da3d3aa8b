// Package admin serves the operator HTTP endpoints: notification broadcast,
// health and Prometheus metrics.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/internal/broadcast"
	"github.com/m3rciful/placebot/internal/metrics"
)

const (
	componentAdmin = "admin"
	maxBodyBytes   = 1 << 20

	msgTokenInvalid = "Token is invalid"
	msgNoData       = "Data is not provided in body"
	msgEmptyMessage = "message is empty"
	msgSendFailed   = "Failed to send notification"
)

// Broadcaster sends a notification to every user.
type Broadcaster interface {
	Send(ctx context.Context, n broadcast.Notification) (broadcast.Result, error)
}

// Config configures the admin server.
type Config struct {
	Listen string
	Token  string
}

// Server is the admin HTTP server.
type Server struct {
	cfg         Config
	broadcaster Broadcaster
	metrics     *metrics.Collector
	validate    *validator.Validate
	srv         *http.Server
}

func NewServer(cfg Config, b Broadcaster, m *metrics.Collector) *Server {
	s := &Server{
		cfg:         cfg,
		broadcaster: b,
		metrics:     m,
		validate:    validator.New(),
	}
	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Post("/notification", s.notification)
	return r
}

// Start binds the listener and serves in the background. A bind failure is returned.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.cfg.Listen, err)
	}
	logger.Info(ctx, componentAdmin, "admin.listen",
		slog.String("listen", ln.Addr().String()),
	)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), componentAdmin, "admin.serve",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	logger.Info(ctx, componentAdmin, "admin.stopped")
	return nil
}

func (s *Server) notification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.authorized(r.URL.Query().Get("token")) {
		logger.Warn(ctx, componentAdmin, "notification.reject",
			slog.String("status", "fail"),
			slog.String("cause", "token"),
		)
		writeText(w, http.StatusUnauthorized, msgTokenInvalid)
		return
	}

	n, ok := decodeNotification(r.Body)
	if !ok {
		writeText(w, http.StatusBadRequest, msgNoData)
		return
	}

	check := n
	check.Message = strings.TrimSpace(check.Message)
	if err := s.validate.Struct(check); err != nil {
		writeText(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	res, err := s.broadcaster.Send(ctx, n)
	if err != nil {
		logger.Error(ctx, componentAdmin, "notification.send",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		writeText(w, http.StatusInternalServerError, msgSendFailed)
		return
	}

	w.Header().Set("X-Broadcast-Run-ID", res.RunID.String())
	writeText(w, http.StatusOK, fmt.Sprintf("Notification sent to %d users successfully", res.Attempted))
}

func (s *Server) authorized(token string) bool {
	if s.cfg.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1
}

// decodeNotification rejects empty bodies, "{}" and anything that is not a JSON object.
func decodeNotification(body io.Reader) (broadcast.Notification, bool) {
	var n broadcast.Notification
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return n, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) == 0 {
		return n, false
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return n, false
	}
	return n, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Message" {
				return msgEmptyMessage
			}
			return strings.ToLower(fe.Field()) + " is invalid"
		}
	}
	return msgNoData
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := logger.WithRID(r.Context(), chimiddleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := "ok"
		if ww.Status() >= http.StatusBadRequest {
			status = "fail"
		}
		logger.Info(ctx, componentAdmin, "http.request",
			slog.String("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_code", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
		)
	})
}
