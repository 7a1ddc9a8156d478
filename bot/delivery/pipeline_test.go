package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/bot/audit"
	"github.com/whisperlane/whisperbot/bot/moderation"
	"github.com/whisperlane/whisperbot/bot/session"
	coreconfig "github.com/whisperlane/whisperbot/core/config"
)

type fakeSender struct {
	textCalls, attCalls, albumCalls int

	lastChatID  int64
	lastText    string
	lastCaption string
	lastAtt     session.Attachment
	lastAlbum   []session.Attachment

	err error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string, _ *tele.ReplyMarkup) (session.MessageRef, error) {
	f.textCalls++
	f.lastChatID = chatID
	f.lastText = text
	return session.MessageRef{ChatID: chatID, MessageID: 1}, f.err
}

func (f *fakeSender) SendAttachment(_ context.Context, chatID int64, att session.Attachment, caption string) (session.MessageRef, error) {
	f.attCalls++
	f.lastChatID = chatID
	f.lastAtt = att
	f.lastCaption = caption
	return session.MessageRef{ChatID: chatID, MessageID: 1}, f.err
}

func (f *fakeSender) SendAlbum(_ context.Context, chatID int64, atts []session.Attachment, caption string) (session.MessageRef, error) {
	f.albumCalls++
	f.lastChatID = chatID
	f.lastAlbum = atts
	f.lastCaption = caption
	return session.MessageRef{ChatID: chatID, MessageID: 1}, f.err
}

var (
	testCategories = []coreconfig.Choice{{Code: "idea", Title: "Idea"}}
	testTopics     = []coreconfig.Choice{{Code: "salary", Title: "Salary"}}
)

func draft(text string, attachments int) *session.Session {
	s := &session.Session{
		Step:     session.StepAwaitingConfirm,
		Category: "idea",
		Topic:    "salary",
		Text:     text,
	}
	for i := 0; i < attachments; i++ {
		s.Attachments = append(s.Attachments, session.Attachment{
			Kind:   session.KindPhoto,
			Handle: session.FileHandle("f"),
		})
	}
	return s
}

func TestDeliverDispatchSplit(t *testing.T) {
	cases := []struct {
		name        string
		attachments int
		wantText    int
		wantAtt     int
		wantAlbum   int
	}{
		{"no attachments", 0, 1, 0, 0},
		{"single attachment", 1, 0, 1, 0},
		{"many attachments", 3, 0, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{}
			p := New(sender, -42, testCategories, testTopics, nil)

			if err := p.Deliver(context.Background(), draft("hello", tc.attachments)); err != nil {
				t.Fatalf("deliver: %v", err)
			}
			if sender.textCalls != tc.wantText || sender.attCalls != tc.wantAtt || sender.albumCalls != tc.wantAlbum {
				t.Fatalf("calls = text:%d att:%d album:%d", sender.textCalls, sender.attCalls, sender.albumCalls)
			}
			if sender.lastChatID != -42 {
				t.Fatalf("chat = %d, want -42", sender.lastChatID)
			}
			if tc.attachments == 3 && len(sender.lastAlbum) != 3 {
				t.Fatalf("album size = %d", len(sender.lastAlbum))
			}
		})
	}
}

func TestDeliverFailurePropagates(t *testing.T) {
	sender := &fakeSender{err: errors.New("boom")}
	rec := audit.NewMemory()
	p := New(sender, -42, testCategories, testTopics, rec)

	if err := p.Deliver(context.Background(), draft("hello", 0)); err == nil {
		t.Fatal("expected send failure to propagate")
	}
	if len(rec.Records()) != 0 {
		t.Fatal("failed delivery must not be audited")
	}
}

func TestDeliverWritesRedactedAuditRecord(t *testing.T) {
	sender := &fakeSender{}
	rec := audit.NewMemory()
	p := New(sender, -42, testCategories, testTopics, rec)

	s := draft("hello", 2)
	s.ModerationLabel = moderation.LabelFlagged
	if err := p.Deliver(context.Background(), s); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	records := rec.Records()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	got := records[0]
	if got.ID == "" || got.Category != "idea" || got.Topic != "salary" || got.Attachments != 2 {
		t.Fatalf("record = %+v", got)
	}
	if got.ModerationLabel != string(moderation.LabelFlagged) {
		t.Fatalf("label = %q", got.ModerationLabel)
	}
}

func TestFormatAdminMessage(t *testing.T) {
	s := draft("pay is *low*", 0)
	text := FormatAdminMessage(s, testCategories, testTopics)

	for _, want := range []string{"Idea", "Salary", `pay is \*low\*`} {
		if !strings.Contains(text, want) {
			t.Fatalf("payload %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "flagged") {
		t.Fatal("clear content must not carry the flag marker")
	}

	s.ModerationLabel = moderation.LabelFlagged
	if text := FormatAdminMessage(s, testCategories, testTopics); !strings.Contains(text, "🚩") {
		t.Fatal("flagged content must carry the marker")
	}
}

func TestFormatFallsBackToCodeForUnknownTitles(t *testing.T) {
	s := draft("hello", 0)
	s.Category = "retired-code"
	text := FormatAdminMessage(s, testCategories, testTopics)
	if !strings.Contains(text, "retired-code") {
		t.Fatalf("payload %q dropped unknown code", text)
	}
}
