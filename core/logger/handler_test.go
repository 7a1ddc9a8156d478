package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(newCtxHandler(inner))
}

func TestCtxHandlerInjectsContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newTestLogger(buf).With("component", "tg")

	ctx := WithRID(Background(), "42:7:9")
	ctx = WithUpdateMeta(ctx, 42, 9, 7)
	ctx = WithHandler(ctx, "flow.text")

	LogEvent(ctx, log, slog.LevelInfo, "test.event", slog.String("status", "ok"))

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if fields["event"] != "test.event" {
		t.Fatalf("event = %v", fields["event"])
	}
	if fields["rid"] != CompactRID("42:7:9") {
		t.Fatalf("rid = %v", fields["rid"])
	}
	if fields["user_id"] != float64(9) || fields["chat_id"] != float64(7) {
		t.Fatalf("ids = %v / %v", fields["user_id"], fields["chat_id"])
	}
	if fields["handler"] != "flow.text" {
		t.Fatalf("handler = %v", fields["handler"])
	}
}

func TestCtxHandlerRedactsBotTokens(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newTestLogger(buf)

	LogEvent(Background(), log, slog.LevelError, "send.fail",
		slog.String("err", "telegram: Post https://api.telegram.org/bot12345:AAbbCCdd-ff/sendMessage failed"),
	)

	line := buf.String()
	if strings.Contains(line, "12345:AAbbCCdd-ff") {
		t.Fatalf("token leaked into log line: %s", line)
	}
	if !strings.Contains(line, "bot<redacted>") {
		t.Fatalf("expected redaction marker in %s", line)
	}
}

func TestCompactRID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"100:200:300", "2s.5k.8c"},
		{"not-a-rid", "not-a-rid"},
		{"", ""},
		{"1:2", "1:2"},
	}
	for _, tc := range cases {
		if got := CompactRID(tc.in); got != tc.want {
			t.Errorf("CompactRID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeLimit(t *testing.T) {
	in := "hello\x00world\x1b[31m"
	got := SanitizeLimit(in, 8)
	if got != "hellowor" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if SanitizeLimit("abc", 0) != "" {
		t.Fatal("zero limit should yield empty string")
	}
}
