// Package texts holds every user-facing string and prompt keyboard in one
// place. Failure texts never leak internal detail.
package texts

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/whisperlane/whisperbot/core/config"
	"github.com/whisperlane/whisperbot/core/telegram/keyboard"
)

const (
	CategoryPrompt = "Where should your message go? Pick a category:"
	TopicPrompt    = "Got it. Now pick a topic:"
	ContentPrompt  = "Write your message. Text, photos, videos and files are all fine.\n\nIt will be delivered anonymously."
	EmptyContent   = "The message can't be empty. Send some text or an attachment."

	Neutral = "Nothing to act on here. If you have an invite, send /start <invite> to begin."

	ModerationWarning = "⚠️ Your message may read harsher than you intended. You can send it as is, or rewrite it."

	Delivered      = "✅ Delivered anonymously. Thank you!"
	Cancelled      = "Cancelled. Let's start over."
	DeliveryFailed = "Couldn't deliver your message right now. Your draft is safe — press Send again in a minute."
	TryAgainLater  = "Something went wrong on our side. Please try that again."

	BurstSettling = "Still receiving your attachments, one moment…"

	ActivationOK      = "You're in! Everything you send here reaches the team anonymously."
	ActivationBad     = "That invite isn't valid or was already used."
	ActivationMissing = "Send /start <invite> with the invite you received."
	AlreadyActive     = "You're already set up — just continue where you left off."
)

// ConfirmSummary renders the draft recap shown before sending.
func ConfirmSummary(categoryTitle, topicTitle, body string, attachments int) string {
	var b strings.Builder
	b.WriteString("Here's what will be sent:\n\n")
	fmt.Fprintf(&b, "*%s* · *%s*\n\n", categoryTitle, topicTitle)
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	if attachments > 0 {
		fmt.Fprintf(&b, "\n📎 %d attachment(s)\n", attachments)
	}
	b.WriteString("\nSend it?")
	return b.String()
}

// ReviewSummary renders the recap for flagged content.
func ReviewSummary(categoryTitle, topicTitle, body string, attachments int) string {
	return ModerationWarning + "\n\n" + ConfirmSummary(categoryTitle, topicTitle, body, attachments)
}

// CategoryKeyboard builds the category selection keyboard.
func CategoryKeyboard(choices []coreconfig.Choice) *tele.ReplyMarkup {
	return choiceKeyboard("category", choices)
}

// TopicKeyboard builds the topic selection keyboard.
func TopicKeyboard(choices []coreconfig.Choice) *tele.ReplyMarkup {
	return choiceKeyboard("topic", choices)
}

func choiceKeyboard(unique string, choices []coreconfig.Choice) *tele.ReplyMarkup {
	buttons := make([]keyboard.InlineBtn, 0, len(choices))
	for _, c := range choices {
		buttons = append(buttons, keyboard.InlineBtn{
			Text:   c.Title,
			Unique: unique,
			Data:   c.Code,
		})
	}
	return keyboard.InlineButtonsNPerRow(buttons, 2)
}

// ConfirmKeyboard builds the final send/cancel keyboard.
func ConfirmKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "📨 Send", Unique: "confirm", Data: "send"},
		{Text: "✖️ Cancel", Unique: "confirm", Data: "cancel"},
	})
}

// ReviewKeyboard builds the moderation-review keyboard.
func ReviewKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "Send anyway", Unique: "review", Data: "send"},
		{Text: "✍️ Rewrite", Unique: "review", Data: "rewrite"},
	})
}
