// Package delivery assembles the final administrator-facing payload and
// drives it through the outbound client. The attachment count decides the
// dispatch shape: plain text, a single captioned attachment, or an album.
package delivery

import (
	"context"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/bot/audit"
	"github.com/whisperlane/whisperbot/bot/moderation"
	"github.com/whisperlane/whisperbot/bot/session"
	coreconfig "github.com/whisperlane/whisperbot/core/config"
	"github.com/whisperlane/whisperbot/core/logger"
)

// Sender is the outbound surface the pipeline drives. *outbound.Client
// satisfies it.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (session.MessageRef, error)
	SendAttachment(ctx context.Context, chatID int64, att session.Attachment, caption string) (session.MessageRef, error)
	SendAlbum(ctx context.Context, chatID int64, atts []session.Attachment, caption string) (session.MessageRef, error)
}

// Pipeline delivers finished drafts to the administrator chat.
type Pipeline struct {
	sender      Sender
	adminChatID int64
	categories  []coreconfig.Choice
	topics      []coreconfig.Choice

	// recorder is nil when audit is disabled.
	recorder audit.Recorder
	now      func() time.Time
}

// New constructs the pipeline. A nil recorder disables audit records.
func New(sender Sender, adminChatID int64, categories, topics []coreconfig.Choice, recorder audit.Recorder) *Pipeline {
	return &Pipeline{
		sender:      sender,
		adminChatID: adminChatID,
		categories:  categories,
		topics:      topics,
		recorder:    recorder,
		now:         time.Now,
	}
}

// Deliver formats and sends one draft. A failed send is reported to the
// caller so the draft can be retried; a failed audit write is logged only,
// since the message itself already reached its destination.
func (p *Pipeline) Deliver(ctx context.Context, s *session.Session) error {
	text := FormatAdminMessage(s, p.categories, p.topics)

	var err error
	switch len(s.Attachments) {
	case 0:
		_, err = p.sender.SendText(ctx, p.adminChatID, text, nil)
	case 1:
		_, err = p.sender.SendAttachment(ctx, p.adminChatID, s.Attachments[0], text)
	default:
		_, err = p.sender.SendAlbum(ctx, p.adminChatID, s.Attachments, text)
	}
	if err != nil {
		return err
	}

	p.record(ctx, s)
	return nil
}

func (p *Pipeline) record(ctx context.Context, s *session.Session) {
	if p.recorder == nil {
		return
	}
	now := p.now()
	rec := audit.Record{
		ID:          audit.NewID(now),
		Category:    s.Category,
		Topic:       s.Topic,
		Attachments: len(s.Attachments),
		DeliveredAt: now.UTC(),
	}
	if s.ModerationLabel == moderation.LabelFlagged {
		rec.ModerationLabel = string(s.ModerationLabel)
	}
	if err := p.recorder.Append(ctx, rec); err != nil {
		logger.Warn(ctx, "delivery", "audit.append.fail",
			slog.String("record_id", rec.ID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}
