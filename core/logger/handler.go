package logger

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

var errNoWriter = errors.New("logger: writer not initialized")

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

type field struct {
	key string
	val any
}

// structuredHandler renders each record as one flat line, KV or JSON, with keys
// in a fixed order. Attributes bound through WithAttrs are flattened once.
type structuredHandler struct {
	cfg    handlerConfig
	rank   map[string]int
	bound  []field
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	rank := make(map[string]int, len(cfg.keyOrder))
	for i, k := range cfg.keyOrder {
		if _, dup := rank[k]; !dup {
			rank[k] = i
		}
	}
	return &structuredHandler{cfg: cfg, rank: rank}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errNoWriter
	}
	asJSON := h.cfg.format == formatJSON
	ts := r.Time.UTC()

	fields := make(map[string]any, 16+len(h.bound))
	fields["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	fields["level"] = r.Level.String()
	if asJSON {
		fields["ts_unix_nano"] = ts.UnixNano()
	}
	for _, f := range h.bound {
		fields[f.key] = f.val
	}
	put := func(k string, v any) { fields[k] = v }
	r.Attrs(func(a slog.Attr) bool {
		flatten(h.prefix, a, put)
		return true
	})

	addContextFields(ctx, fields)
	shortenRID(fields, asJSON)
	if s, _ := stringField(fields, "event"); s == "" {
		fields["event"] = cmp.Or(r.Message, "unknown")
	}
	if s, _ := stringField(fields, "component"); s == "" {
		fields["component"] = "app"
	}
	sanitizeEnumerations(fields)
	pruneEmpty(fields)

	line, err := h.render(fields, asJSON)
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(line)
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.bound = slices.Clone(h.bound)
	for _, a := range attrs {
		flatten(h.prefix, a, func(k string, v any) {
			clone.bound = append(clone.bound, field{key: k, val: v})
		})
	}
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = dotted(h.prefix, name)
	return &clone
}

// render writes fields in rank order; keys outside the order follow alphabetically.
func (h *structuredHandler) render(fields map[string]any, asJSON bool) ([]byte, error) {
	keys := slices.SortedFunc(maps.Keys(fields), func(a, b string) int {
		ra, okA := h.rank[a]
		rb, okB := h.rank[b]
		switch {
		case okA && okB:
			return ra - rb
		case okA:
			return -1
		case okB:
			return 1
		}
		return strings.Compare(a, b)
	})

	var buf bytes.Buffer
	if asJSON {
		buf.WriteByte('{')
	}
	for i, k := range keys {
		if !asJSON {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(k)
			buf.WriteByte('=')
			buf.WriteString(formatValueKV(fields[k]))
			continue
		}
		name, _ := json.Marshal(k)
		val, err := json.Marshal(fields[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %q: %w", k, err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	if asJSON {
		buf.WriteByte('}')
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// flatten resolves attr, expands groups into dotted keys and hands every
// normalized leaf to put.
func flatten(prefix string, attr slog.Attr, put func(string, any)) {
	val := attr.Value.Resolve()
	key := dotted(prefix, attr.Key)
	if val.Kind() == slog.KindGroup {
		for _, child := range val.Group() {
			flatten(key, child, put)
		}
		return
	}
	if key == "" {
		return
	}
	if k, v, ok := normalizeAttr(key, val); ok {
		put(k, v)
	}
}

func dotted(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

func normalizeAttr(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationField(key, val.Duration())
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationField(key, x)
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationField renders d as whole milliseconds under a key ending in "_ms".
func durationField(key string, d time.Duration) (string, any, bool) {
	ms := RoundMS(d).Milliseconds()
	switch {
	case key == "duration":
		key = "duration_ms"
	case strings.HasSuffix(key, "_ms"):
	default:
		key += "_ms"
	}
	return key, ms, true
}

func shortenRID(fields map[string]any, keepFull bool) {
	rid, _ := stringField(fields, "rid")
	short := compactRID(rid)
	if rid == "" || short == "" || short == rid {
		return
	}
	if _, seen := fields["rid_full"]; keepFull && !seen {
		fields["rid_full"] = rid
	}
	fields["rid"] = short
}

// sanitizeEnumerations keeps unknown statuses (lowercased) but drops unknown outcomes.
func sanitizeEnumerations(fields map[string]any) {
	if lvl, ok := stringField(fields, "level"); ok {
		fields["level"] = normalizeLevel(lvl)
	}
	if s, ok := stringField(fields, "status"); ok {
		s, _ = normalizeEnum(s, statusValues)
		fields["status"] = s
	}
	if o, ok := stringField(fields, "outcome"); ok {
		if o, valid := normalizeEnum(o, outcomeValues); valid {
			fields["outcome"] = o
		} else {
			delete(fields, "outcome")
		}
	}
}

func pruneEmpty(fields map[string]any) {
	maps.DeleteFunc(fields, func(_ string, v any) bool {
		switch val := v.(type) {
		case nil:
			return true
		case string:
			return val == ""
		case fmt.Stringer:
			return val.String() == ""
		}
		return false
	})
}

func formatValueKV(val any) string {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		s = fmt.Sprint(v)
	}
	if strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	}
	return fmt.Sprint(v), true
}

// addContextFields copies request metadata from ctx without overriding explicit attrs.
func addContextFields(ctx context.Context, fields map[string]any) {
	if ctx == nil {
		return
	}
	fill := func(key string, val any, present bool) {
		if _, ok := fields[key]; present && !ok {
			fields[key] = val
		}
	}
	rid := RIDFrom(ctx)
	fill("rid", rid, rid != "")
	uid := UserIDFrom(ctx)
	fill("user_id", uid, uid != 0)
	updateID := UpdateIDFrom(ctx)
	fill("update_id", updateID, updateID != 0)
	cid := ChatIDFrom(ctx)
	fill("chat_id", cid, cid != 0)
	hid := handlerFrom(ctx)
	fill("handler", hid, hid != "")
}
