package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const redactedValue = "***"

// secretKeys are attribute keys whose values are always masked.
// Matching is case-insensitive and also covers suffixes such as
// "radarr_api_key".
var secretKeys = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"secret",
	"authorization",
}

// bearerPattern masks tokens embedded in otherwise loggable strings,
// e.g. a dumped request header.
var bearerPattern = regexp.MustCompile(`(?i)(bearer|x-api-key:?)\s+[a-zA-Z0-9\-._~+/]+=*`)

// RedactingHandler wraps a slog.Handler and masks credential-bearing
// attributes before they are written.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps the given handler.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		clean := make([]slog.Attr, len(members))
		for i, m := range members {
			clean[i] = redactAttr(m)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}

	if isSecretKey(a.Key) {
		return slog.String(a.Key, redactedValue)
	}

	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); bearerPattern.MatchString(s) {
			return slog.String(a.Key, bearerPattern.ReplaceAllString(s, "$1 "+redactedValue))
		}
	}
	return a
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, secret := range secretKeys {
		if lower == secret || strings.HasSuffix(lower, "_"+secret) {
			return true
		}
	}
	return false
}
