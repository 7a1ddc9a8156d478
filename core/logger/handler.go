package logger

import (
	"context"
	"log/slog"
	"regexp"
	"time"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// ctxHandler decorates an inner slog.Handler with fields carried in context
// (rid, update_id, user_id, chat_id, handler) and redacts bot tokens that leak
// into string attributes.
type ctxHandler struct {
	inner slog.Handler
}

func newCtxHandler(inner slog.Handler) *ctxHandler {
	return &ctxHandler{inner: inner}
}

// Enabled reports whether the inner handler allows the provided level.
func (h *ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enriches the record with context fields and forwards it.
func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})

	if rid := RIDFrom(ctx); rid != "" {
		out.AddAttrs(slog.String("rid", CompactRID(rid)))
	}
	if updateID := UpdateIDFrom(ctx); updateID != 0 {
		out.AddAttrs(slog.Int("update_id", updateID))
	}
	if userID := UserIDFrom(ctx); userID != 0 {
		out.AddAttrs(slog.Int64("user_id", userID))
	}
	if chatID := ChatIDFrom(ctx); chatID != 0 {
		out.AddAttrs(slog.Int64("chat_id", chatID))
	}
	if handler := HandlerFrom(ctx); handler != "" {
		out.AddAttrs(slog.String("handler", handler))
	}

	return h.inner.Handle(ctx, out)
}

// WithAttrs returns a copy of the handler whose inner handler carries attrs.
func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a copy of the handler with an additional group prefix.
func (h *ctxHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ctxHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(tokenRe.ReplaceAllString(a.Value.String(), "bot<redacted>"))
	case slog.KindDuration:
		// Normalize durations to rounded milliseconds for stable log lines.
		a = slog.Int64(durationKey(a.Key), RoundMS(a.Value.Duration()).Milliseconds())
	}
	return a
}

func durationKey(key string) string {
	if key == "duration" {
		return "duration_ms"
	}
	if len(key) > 3 && key[len(key)-3:] == "_ms" {
		return key
	}
	return key + "_ms"
}

// RoundMS rounds a duration to whole milliseconds for log output.
func RoundMS(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
