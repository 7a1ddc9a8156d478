// Package session defines the per-user conversation state and the store
// contract it lives behind. A session exists from activation until delivery,
// cancel, or idle expiry; all cross-event state of the flow lives here.
package session

import (
	"strconv"
	"time"

	"github.com/whisperlane/whisperbot/bot/moderation"
)

// Step identifies the flow step a session is waiting on.
type Step string

const (
	// StepAwaitingCategory waits for a category selection.
	StepAwaitingCategory Step = "awaiting_category"
	// StepAwaitingTopic waits for a topic selection.
	StepAwaitingTopic Step = "awaiting_topic"
	// StepAwaitingContent waits for the message body (text or attachments).
	StepAwaitingContent Step = "awaiting_content"
	// StepModerationReview waits for the author's decision on flagged content.
	StepModerationReview Step = "moderation_review"
	// StepAwaitingConfirm waits for the final send/cancel decision.
	StepAwaitingConfirm Step = "awaiting_confirm"
)

// AttachmentKind distinguishes the supported attachment types.
type AttachmentKind string

const (
	KindPhoto    AttachmentKind = "photo"
	KindVideo    AttachmentKind = "video"
	KindDocument AttachmentKind = "document"
)

// FileHandle is an opaque Telegram file reference. The core never interprets
// it beyond passing it back to the API.
type FileHandle string

// Attachment is one uploaded file in arrival order.
type Attachment struct {
	Kind   AttachmentKind `json:"kind"`
	Handle FileHandle     `json:"handle"`
}

// MessageRef references a previously sent bot message so later steps can edit
// it in place. It satisfies tele.Editable via MessageSig.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// MessageSig implements the telebot Editable contract.
func (r MessageRef) MessageSig() (string, int64) {
	return strconv.Itoa(r.MessageID), r.ChatID
}

// Zero reports whether the reference points at no message.
func (r MessageRef) Zero() bool {
	return r.MessageID == 0 || r.ChatID == 0
}

// Session is the conversation state for one user.
type Session struct {
	Step     Step   `json:"step"`
	Category string `json:"category,omitempty"`
	Topic    string `json:"topic,omitempty"`

	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// PendingGroupID correlates an open attachment burst; cleared when the
	// burst is finalized. Not stable across bursts.
	PendingGroupID string `json:"pending_group_id,omitempty"`
	// LastAttachmentAt is the unix-nano stamp of the latest attachment
	// arrival, the freshness token the coalescer re-checks after its wait.
	LastAttachmentAt int64 `json:"last_attachment_at,omitempty"`

	ModerationLabel moderation.Label `json:"moderation_label,omitempty"`

	// Anchor is the bot message the flow renders prompts into.
	Anchor MessageRef `json:"anchor,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New returns a fresh session at the first step.
func New(now time.Time) *Session {
	return &Session{
		Step:      StepAwaitingCategory,
		CreatedAt: now.UTC(),
	}
}

// BurstOpen reports whether an attachment burst is still being coalesced.
func (s *Session) BurstOpen() bool {
	return s.PendingGroupID != ""
}

// ClearContent drops the authored content while keeping category and topic,
// the "rewrite" action semantics.
func (s *Session) ClearContent() {
	s.Text = ""
	s.Attachments = nil
	s.PendingGroupID = ""
	s.LastAttachmentAt = 0
	s.ModerationLabel = moderation.LabelNone
}

// Restart resets the session to the first step, dropping every selection.
func (s *Session) Restart() {
	s.Category = ""
	s.Topic = ""
	s.ClearContent()
	s.Step = StepAwaitingCategory
}

// Clone returns a deep copy so store reads never alias caller mutations.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if len(s.Attachments) > 0 {
		out.Attachments = append([]Attachment(nil), s.Attachments...)
	}
	return &out
}
