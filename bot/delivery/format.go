package delivery

import (
	"fmt"
	"strings"

	"github.com/whisperlane/whisperbot/bot/moderation"
	"github.com/whisperlane/whisperbot/bot/session"
	coreconfig "github.com/whisperlane/whisperbot/core/config"
	"github.com/whisperlane/whisperbot/core/telegram/format"
)

// FormatAdminMessage renders the administrator-facing payload: routing header,
// optional moderation marker, and the author's text with markdown specials
// escaped so user input cannot break the formatting. The author's identity
// never appears here.
func FormatAdminMessage(s *session.Session, categories, topics []coreconfig.Choice) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📨 *%s* · *%s*\n", titleOf(categories, s.Category), titleOf(topics, s.Topic))
	if s.ModerationLabel == moderation.LabelFlagged {
		b.WriteString("🚩 flagged by moderation\n")
	}

	if s.Text != "" {
		escaped, err := format.EscapeMarkdown(s.Text, format.MarkdownV1)
		if err != nil {
			escaped = s.Text
		}
		b.WriteString("\n")
		b.WriteString(escaped)
	}

	return b.String()
}

func titleOf(choices []coreconfig.Choice, code string) string {
	for _, c := range choices {
		if c.Code == code {
			return c.Title
		}
	}
	return code
}
