package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	s := New(now)
	s.Category = "idea"
	if err := store.Put(ctx, 7, s); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, 7)
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.Category != "idea" {
		t.Fatalf("category = %q", got.Category)
	}

	now = now.Add(time.Hour + time.Second)
	got, err = store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if got != nil {
		t.Fatal("expired session should read as absent")
	}
}

func TestMemoryStorePutResetsTTL(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Put(ctx, 7, New(now)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A write 50 minutes in extends the lifetime past the original deadline.
	now = now.Add(50 * time.Minute)
	if err := store.Put(ctx, 7, New(now)); err != nil {
		t.Fatalf("second put: %v", err)
	}

	now = now.Add(55 * time.Minute)
	got, err := store.Get(ctx, 7)
	if err != nil || got == nil {
		t.Fatalf("session should still be alive after TTL reset: %v, %v", got, err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	s := New(time.Now())
	s.Attachments = []Attachment{{Kind: KindPhoto, Handle: "f1"}}
	if err := store.Put(ctx, 7, s); err != nil {
		t.Fatalf("put: %v", err)
	}

	first, _ := store.Get(ctx, 7)
	first.Attachments = append(first.Attachments, Attachment{Kind: KindVideo, Handle: "f2"})
	first.Text = "mutated"

	second, _ := store.Get(ctx, 7)
	if len(second.Attachments) != 1 || second.Text != "" {
		t.Fatalf("store leaked caller mutations: %+v", second)
	}
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	_ = store.Put(ctx, 42, New(time.Now()))
	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if got, _ := store.Get(ctx, 42); got != nil {
		t.Fatal("session should be gone")
	}
}

func TestSessionRewriteKeepsSelections(t *testing.T) {
	s := New(time.Now())
	s.Category = "idea"
	s.Topic = "salary"
	s.Text = "body"
	s.Attachments = []Attachment{{Kind: KindPhoto, Handle: "f1"}}
	s.PendingGroupID = "g1"
	s.LastAttachmentAt = 99
	s.Step = StepModerationReview

	s.ClearContent()
	if s.Category != "idea" || s.Topic != "salary" {
		t.Fatal("rewrite must keep category and topic")
	}
	if s.Text != "" || s.Attachments != nil || s.PendingGroupID != "" || s.LastAttachmentAt != 0 {
		t.Fatalf("content fields not cleared: %+v", s)
	}

	s.Restart()
	if s.Category != "" || s.Topic != "" || s.Step != StepAwaitingCategory {
		t.Fatalf("restart must reset everything: %+v", s)
	}
}
