package outbound

import (
	"context"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/bot/session"
)

type fakeAPI struct {
	sendErrs  []error
	sendCalls int
	lastWhat  interface{}

	albumErrs  []error
	albumCalls int
	lastAlbum  tele.Album
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.sendCalls++
	f.lastWhat = what
	var err error
	if len(f.sendErrs) > 0 {
		err, f.sendErrs = f.sendErrs[0], f.sendErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	return &tele.Message{ID: 100 + f.sendCalls, Chat: &tele.Chat{ID: -42}}, nil
}

func (f *fakeAPI) SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error) {
	f.albumCalls++
	f.lastAlbum = a
	var err error
	if len(f.albumErrs) > 0 {
		err, f.albumErrs = f.albumErrs[0], f.albumErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	return []tele.Message{{ID: 500, Chat: &tele.Chat{ID: -42}}}, nil
}

func (f *fakeAPI) Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error) {
	return &tele.Message{ID: 900, Chat: &tele.Chat{ID: -42}}, nil
}

func newTestClient(api API) (*Client, *[]time.Duration) {
	c := New(api, Options{MaxAttempts: 3, BaseBackoff: time.Second, MaxDuration: time.Minute})
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func transientErr() error {
	return &tele.Error{Code: 502, Description: "bad gateway"}
}

func TestRetryCeiling(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{transientErr(), transientErr(), transientErr()}}
	c, slept := newTestClient(api)

	_, err := c.SendText(context.Background(), 1, "hello", nil)
	if err == nil {
		t.Fatal("expected failure after exhausted retries")
	}
	if api.sendCalls != 3 {
		t.Fatalf("attempts = %d, want 3", api.sendCalls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("sleep %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{transientErr(), nil}}
	c, slept := newTestClient(api)

	ref, err := c.SendText(context.Background(), 1, "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.sendCalls != 2 {
		t.Fatalf("attempts = %d, want 2", api.sendCalls)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Fatalf("sleeps = %v", *slept)
	}
	if ref.ChatID != -42 || ref.MessageID == 0 {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestRateLimitHintOverridesBackoff(t *testing.T) {
	flood := tele.FloodError{RetryAfter: 5}
	api := &fakeAPI{sendErrs: []error{flood, nil}}
	c, slept := newTestClient(api)

	_, err := c.SendText(context.Background(), 1, "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 5*time.Second {
		t.Fatalf("sleeps = %v, want single 5s hint wait", *slept)
	}
}

func TestRateLimitDoesNotConsumeAttempt(t *testing.T) {
	flood := tele.FloodError{RetryAfter: 1}
	// One flood plus three transients: the flood wait must leave all three
	// real attempts available.
	api := &fakeAPI{sendErrs: []error{flood, transientErr(), transientErr(), transientErr()}}
	c, _ := newTestClient(api)

	_, err := c.SendText(context.Background(), 1, "hello", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if api.sendCalls != 4 {
		t.Fatalf("calls = %d, want 4 (1 rate-limited + 3 attempts)", api.sendCalls)
	}
}

func TestNonRetryableFailsFast(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{&tele.Error{Code: 400, Description: "bad request"}}}
	c, slept := newTestClient(api)

	_, err := c.SendText(context.Background(), 1, "hello", nil)
	if err == nil {
		t.Fatal("expected immediate failure")
	}
	if api.sendCalls != 1 {
		t.Fatalf("attempts = %d, want 1", api.sendCalls)
	}
	if len(*slept) != 0 {
		t.Fatalf("unexpected sleeps: %v", *slept)
	}
}

func TestSendAlbumCaptionOnFirstItemOnly(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(api)

	atts := []session.Attachment{
		{Kind: session.KindPhoto, Handle: "f1"},
		{Kind: session.KindVideo, Handle: "f2"},
		{Kind: session.KindDocument, Handle: "f3"},
	}
	_, err := c.SendAlbum(context.Background(), 1, atts, "caption")
	if err != nil {
		t.Fatalf("album: %v", err)
	}
	if len(api.lastAlbum) != 3 {
		t.Fatalf("album size = %d", len(api.lastAlbum))
	}
	photo, ok := api.lastAlbum[0].(*tele.Photo)
	if !ok || photo.Caption != "caption" {
		t.Fatalf("first item = %#v", api.lastAlbum[0])
	}
	video, ok := api.lastAlbum[1].(*tele.Video)
	if !ok || video.Caption != "" {
		t.Fatalf("second item = %#v", api.lastAlbum[1])
	}
}
