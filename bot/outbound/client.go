// Package outbound is the only place Telegram API faults are absorbed. Every
// call runs through a bounded retry loop: transient failures back off
// exponentially, rate-limit responses wait out the server's explicit hint
// without consuming an attempt, and everything else fails fast.
package outbound

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/bot/session"
	"github.com/whisperlane/whisperbot/core/logger"
	"github.com/whisperlane/whisperbot/core/telegram/netutil"
)

// ErrNoMessage is returned when the API reports success without a message.
var ErrNoMessage = errors.New("outbound: empty send result")

// API is the subset of the telebot bot surface the client drives.
// *tele.Bot satisfies it.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Options controls the retry behaviour of the client.
type Options struct {
	// MaxAttempts caps tries per logical operation; default 3.
	MaxAttempts int
	// BaseBackoff is the first retry delay, doubled per attempt; default 1s.
	BaseBackoff time.Duration
	// MaxDuration bounds one logical operation including rate-limit waits;
	// default 30s.
	MaxDuration time.Duration
}

// Client executes outbound Telegram calls with bounded retry.
// It is stateless between calls and safe for concurrent use.
type Client struct {
	api  API
	opts Options

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Client with sane defaults for zeroed options.
func New(api API, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 30 * time.Second
	}
	return &Client{
		api:   api,
		opts:  opts,
		sleep: ctxSleep,
	}
}

// SendText delivers a plain message and returns its reference.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (session.MessageRef, error) {
	var msg *tele.Message
	err := c.do(ctx, "send.text", func() error {
		var err error
		msg, err = c.api.Send(tele.ChatID(chatID), text, sendOptions(markup))
		return err
	})
	if err != nil {
		return session.MessageRef{}, err
	}
	return refOf(msg)
}

// EditText rewrites a previously sent message in place.
func (c *Client) EditText(ctx context.Context, ref session.MessageRef, text string, markup *tele.ReplyMarkup) (session.MessageRef, error) {
	var msg *tele.Message
	err := c.do(ctx, "edit.text", func() error {
		var err error
		msg, err = c.api.Edit(ref, text, sendOptions(markup))
		return err
	})
	if err != nil {
		return session.MessageRef{}, err
	}
	return refOf(msg)
}

// SendAttachment delivers a single attachment carrying the text as caption.
func (c *Client) SendAttachment(ctx context.Context, chatID int64, att session.Attachment, caption string) (session.MessageRef, error) {
	var msg *tele.Message
	err := c.do(ctx, "send.attachment", func() error {
		var err error
		msg, err = c.api.Send(tele.ChatID(chatID), mediaFor(att, caption), sendOptions(nil))
		return err
	})
	if err != nil {
		return session.MessageRef{}, err
	}
	return refOf(msg)
}

// SendAlbum delivers a multi-attachment batch as one logical message, with
// the caption on the first item only. Partial success inside the batch is
// reported as a single failure; nothing already delivered is undone here.
func (c *Client) SendAlbum(ctx context.Context, chatID int64, atts []session.Attachment, caption string) (session.MessageRef, error) {
	album := make(tele.Album, 0, len(atts))
	for i, att := range atts {
		cap := ""
		if i == 0 {
			cap = caption
		}
		album = append(album, mediaFor(att, cap))
	}

	var msgs []tele.Message
	err := c.do(ctx, "send.album", func() error {
		var err error
		msgs, err = c.api.SendAlbum(tele.ChatID(chatID), album, tele.ModeMarkdown)
		return err
	})
	if err != nil {
		return session.MessageRef{}, err
	}
	if len(msgs) == 0 {
		return session.MessageRef{}, ErrNoMessage
	}
	return refOf(&msgs[0])
}

// do drives one logical operation through the retry loop. A rate-limit
// response with an explicit wait hint sleeps that hint and does not consume
// an attempt; the operation deadline still bounds the total time.
func (c *Client) do(ctx context.Context, action string, run func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	logger.Debug(ctx, "outbound", "send.start", slog.String("action", action))

	var lastErr error
	attempt := 1
	for {
		if err := opCtx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		err := run()
		if err == nil {
			if attempt > 1 {
				logger.Info(ctx, "outbound", "send.retry.success",
					slog.String("action", action),
					slog.Int("attempt", attempt),
					slog.Duration("elapsed", time.Since(start)),
				)
			}
			logger.Debug(ctx, "outbound", "send.success",
				slog.String("action", action),
				slog.Duration("elapsed", time.Since(start)),
			)
			return nil
		}
		lastErr = err

		if hint, ok := netutil.RetryAfterHint(err); ok {
			logger.Warn(ctx, "outbound", "send.rate_limited",
				slog.String("action", action),
				slog.Duration("wait", hint),
			)
			if serr := c.sleep(opCtx, hint); serr != nil {
				break
			}
			continue
		}

		if !netutil.Transient(err) || attempt >= c.opts.MaxAttempts {
			break
		}

		delay := c.opts.BaseBackoff << (attempt - 1)
		logger.Debug(ctx, "outbound", "send.retry.backoff",
			slog.String("action", action),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if serr := c.sleep(opCtx, delay); serr != nil {
			break
		}
		attempt++
	}

	logger.Error(ctx, "outbound", "send.fail",
		slog.String("action", action),
		slog.Int("attempts", attempt),
		slog.String("err", logger.SanitizeLimit(lastErr.Error(), 256)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return lastErr
}

func sendOptions(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}
}

func mediaFor(att session.Attachment, caption string) tele.Inputtable {
	file := tele.File{FileID: string(att.Handle)}
	switch att.Kind {
	case session.KindPhoto:
		return &tele.Photo{File: file, Caption: caption}
	case session.KindVideo:
		return &tele.Video{File: file, Caption: caption}
	default:
		return &tele.Document{File: file, Caption: caption}
	}
}

func refOf(msg *tele.Message) (session.MessageRef, error) {
	if msg == nil {
		return session.MessageRef{}, ErrNoMessage
	}
	ref := session.MessageRef{MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref, nil
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
