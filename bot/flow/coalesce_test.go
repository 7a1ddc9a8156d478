package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whisperlane/whisperbot/bot/session"
	"github.com/whisperlane/whisperbot/bot/texts"
	coreconfig "github.com/whisperlane/whisperbot/core/config"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// Three burst members arrive within the quiet window; exactly one recap build
// must happen, with attachments in arrival order.
func TestBurstCoalescesIntoOneBuild(t *testing.T) {
	ctx := context.Background()
	f, store, msgr, _ := newTestFlow(t, testConfig(), nil)

	var sleepers int32
	release := make(chan struct{})
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		atomic.AddInt32(&sleepers, 1)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	walkToContent(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		ev := attachmentEvent(7, 7, fmt.Sprintf("file-%d", i), "group-1", "")
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.HandleEvent(ctx, ev); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
		// Each member must be parked in its quiet-window wait before the
		// next one arrives, so appends happen in upload order.
		want := int32(i + 1)
		waitFor(t, func() bool { return atomic.LoadInt32(&sleepers) == want })
	}

	close(release)
	wg.Wait()

	s := mustGet(t, store, 7)
	if s.Step != session.StepAwaitingConfirm {
		t.Fatalf("step = %q", s.Step)
	}
	if s.BurstOpen() {
		t.Fatal("burst marker survived finalization")
	}
	if len(s.Attachments) != 3 {
		t.Fatalf("attachments = %d, want 3", len(s.Attachments))
	}
	for i, att := range s.Attachments {
		if want := session.FileHandle(fmt.Sprintf("file-%d", i)); att.Handle != want {
			t.Fatalf("attachment %d = %q, want %q", i, att.Handle, want)
		}
	}
	if n := msgr.countContaining("Send it?"); n != 1 {
		t.Fatalf("recap builds = %d, want exactly 1", n)
	}
}

// A burst member arriving after the quiet window has elapsed forms a second
// build instead of being folded into the first.
func TestLateBurstMemberFormsSecondBuild(t *testing.T) {
	ctx := context.Background()
	f, store, msgr, _ := newTestFlow(t, testConfig(), nil)

	walkToContent(t, f)

	// The injected sleep returns immediately, so the window has always
	// elapsed by the time the next event arrives.
	if err := f.HandleEvent(ctx, attachmentEvent(7, 7, "file-0", "group-1", "")); err != nil {
		t.Fatalf("first member: %v", err)
	}
	if got := mustGet(t, store, 7).Step; got != session.StepAwaitingConfirm {
		t.Fatalf("step after first build = %q", got)
	}

	if err := f.HandleEvent(ctx, attachmentEvent(7, 7, "file-1", "group-1", "")); err != nil {
		t.Fatalf("late member: %v", err)
	}
	s := mustGet(t, store, 7)
	if s.Step != session.StepAwaitingConfirm {
		t.Fatalf("step after second build = %q", s.Step)
	}
	if len(s.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(s.Attachments))
	}
	if n := msgr.countContaining("Send it?"); n != 2 {
		t.Fatalf("recap builds = %d, want 2", n)
	}
}

// With the reject policy, a text message landing while a burst is still open
// gets the settling notice and changes nothing.
func TestOpenBurstRejectPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.OpenBurstPolicy = coreconfig.OpenBurstReject
	f, store, msgr, _ := newTestFlow(t, cfg, nil)

	release := make(chan struct{})
	var parked int32
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		atomic.AddInt32(&parked, 1)
		<-release
		return nil
	}

	walkToContent(t, f)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.HandleEvent(ctx, attachmentEvent(7, 7, "file-0", "group-1", "")); err != nil {
			t.Errorf("attachment: %v", err)
		}
	}()
	waitFor(t, func() bool { return atomic.LoadInt32(&parked) == 1 })

	if err := f.HandleEvent(ctx, textEvent(7, 7, "and also this")); err != nil {
		t.Fatalf("text during burst: %v", err)
	}
	if msgr.last(t).text != texts.BurstSettling {
		t.Fatalf("reply = %q", msgr.last(t).text)
	}
	s := mustGet(t, store, 7)
	if !s.BurstOpen() || s.Text != "" {
		t.Fatalf("reject policy must not mutate the draft: %+v", s)
	}

	close(release)
	wg.Wait()

	s = mustGet(t, store, 7)
	if s.Step != session.StepAwaitingConfirm || len(s.Attachments) != 1 {
		t.Fatalf("burst did not settle: %+v", s)
	}
}

// With the finalize policy, a text message landing while a burst is open
// closes the burst first; the text is then handled against the advanced step.
func TestOpenBurstFinalizePolicy(t *testing.T) {
	ctx := context.Background()
	f, store, _, _ := newTestFlow(t, testConfig(), nil)

	release := make(chan struct{})
	var parked int32
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		atomic.AddInt32(&parked, 1)
		<-release
		return nil
	}

	walkToContent(t, f)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.HandleEvent(ctx, attachmentEvent(7, 7, "file-0", "group-1", "caption text")); err != nil {
			t.Errorf("attachment: %v", err)
		}
	}()
	waitFor(t, func() bool { return atomic.LoadInt32(&parked) == 1 })

	if err := f.HandleEvent(ctx, textEvent(7, 7, "afterthought")); err != nil {
		t.Fatalf("text during burst: %v", err)
	}
	s := mustGet(t, store, 7)
	if s.BurstOpen() {
		t.Fatal("burst must be finalized before the new event is considered")
	}
	if s.Step != session.StepAwaitingConfirm {
		t.Fatalf("step = %q", s.Step)
	}
	if len(s.Attachments) != 1 || s.Text != "caption text" {
		t.Fatalf("finalized draft = %+v", s)
	}

	close(release)
	wg.Wait()
}
