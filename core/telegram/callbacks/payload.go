// Package callbacks parses Telebot's inline-button callback encoding.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ParseCallbackData parses Telebot's \f<unique>|<payload> encoding.
// Returns unique and payload (may be empty).
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, strings.TrimPrefix(cb.Data, "|")
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	raw = strings.TrimPrefix(raw, "\\f")
	parts := strings.SplitN(raw, "|", 2)
	unique := strings.TrimSpace(parts[0])
	payload := ""
	if len(parts) == 2 {
		payload = parts[1]
	}
	return unique, payload
}

// Token renders a callback as a single "unique:payload" action token, the
// shape consumed by the flow's action parser.
func Token(cb *tele.Callback) string {
	unique, payload := ParseCallbackData(cb)
	if unique == "" {
		return ""
	}
	if payload == "" {
		return unique
	}
	return unique + ":" + payload
}
