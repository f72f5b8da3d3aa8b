package logger

import (
	"log/slog"
	"strings"
)

// Enumerated fields keep a closed vocabulary so dashboards can group on them.
var (
	statusValues  = set("ok", "fail", "skip", "retry", "rate_limited", "cancelled")
	outcomeValues = set("ok", "fail", "cancelled", "rate_limited")
)

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// normalizeLevel maps level spellings onto slog's names, with FATAL for anything above ERROR.
func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo.String()
	case "debug":
		return slog.LevelDebug.String()
	case "warn", "warning":
		return slog.LevelWarn.String()
	case "error":
		return slog.LevelError.String()
	case "fatal":
		return "FATAL"
	}
	return strings.ToUpper(level)
}

// normalizeEnum lowercases v and reports whether it belongs to allowed.
func normalizeEnum(v string, allowed map[string]struct{}) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	_, ok := allowed[v]
	return v, ok && v != ""
}

// defaultKeyOrder leads with the envelope, then the update context, then the
// conversation and broadcast fields, then errors. Unlisted keys follow sorted.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "chat_type", "handler",
	"op", "cb_key", "outcome", "duration_ms",
	"state", "from", "to", "category", "radius_m", "page", "total", "place_id",
	"run_id", "recipients",
	"messages", "kb", "count", "payload", "lang", "username",
	"mode", "listen", "public_url", "http_code", "db", "host", "port",
	"err", "err_code", "cause", "attempt", "attempts", "circuit_open", "rate_limited",
}
