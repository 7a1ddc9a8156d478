// Package telegram binds the conversation flow to the bot transport: it
// normalizes telebot updates into flow events, enforces invite activation at
// the edge, and assembles the middleware chain.
package telegram

import (
	"context"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/bot/access"
	"github.com/whisperlane/whisperbot/bot/flow"
	"github.com/whisperlane/whisperbot/bot/session"
	"github.com/whisperlane/whisperbot/bot/texts"
	coreconfig "github.com/whisperlane/whisperbot/core/config"
	"github.com/whisperlane/whisperbot/core/logger"
	coretelegram "github.com/whisperlane/whisperbot/core/telegram"
	"github.com/whisperlane/whisperbot/core/telegram/callbacks"
	tghelpers "github.com/whisperlane/whisperbot/core/telegram/helpers"
	"github.com/whisperlane/whisperbot/core/telegram/middleware"
)

// Middlewares builds the global middleware chain in execution order.
func Middlewares(cfg *coreconfig.Config) []coretelegram.Middleware {
	mws := []coretelegram.Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}
	if cfg.RateLimit.IntervalMS > 0 {
		mws = append(mws, coretelegram.Middleware{
			Name: "rate_limit",
			Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
				Interval:         time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
				ExcludeCallbacks: cfg.RateLimit.ExcludeCallbacks,
			}),
		})
	}
	return mws
}

// Wiring owns the bot handlers. The flow is bound late, once the live bot
// handle exists, which is still before the poller starts consuming updates.
type Wiring struct {
	verifier access.Verifier
	flow     *flow.Flow
}

// NewWiring constructs the handler set without a flow bound yet.
func NewWiring(verifier access.Verifier) *Wiring {
	return &Wiring{verifier: verifier}
}

// Bind attaches the flow. Must happen before the bot starts polling.
func (w *Wiring) Bind(f *flow.Flow) {
	w.flow = f
}

// Routes lists every bot handler.
func (w *Wiring) Routes() []coretelegram.Route {
	return []coretelegram.Route{
		{Endpoint: "/start", Handler: w.handleStart},
		{Endpoint: tele.OnText, Handler: w.handleText},
		{Endpoint: tele.OnPhoto, Handler: w.handleMedia},
		{Endpoint: tele.OnVideo, Handler: w.handleMedia},
		{Endpoint: tele.OnDocument, Handler: w.handleMedia},
		{Endpoint: tele.OnCallback, Handler: w.handleCallback},
	}
}

func (w *Wiring) handleStart(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "start")
	userID := c.Sender().ID

	active, err := w.verifier.Verified(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "wire", "access.check.fail", slog.String("err", err.Error()))
		return c.Send(texts.TryAgainLater)
	}
	if active {
		// A repeated /start begins a fresh conversation.
		return w.flow.Begin(ctx, userID, c.Chat().ID)
	}

	token := c.Message().Payload
	if token == "" {
		return c.Send(texts.ActivationMissing)
	}
	ok, err := w.verifier.Redeem(ctx, token, userID)
	if err != nil {
		logger.Warn(ctx, "wire", "access.redeem.fail", slog.String("err", err.Error()))
		return c.Send(texts.TryAgainLater)
	}
	if !ok {
		logger.Info(ctx, "wire", "access.redeem.rejected")
		return c.Send(texts.ActivationBad)
	}

	logger.Info(ctx, "wire", "access.activated")
	if err := c.Send(texts.ActivationOK); err != nil {
		return err
	}
	return w.flow.Begin(ctx, userID, c.Chat().ID)
}

func (w *Wiring) handleText(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "text")
	ev, ok, err := w.gate(ctx, c)
	if err != nil || !ok {
		return err
	}
	ev.Text = c.Text()
	return w.flow.HandleEvent(ctx, ev)
}

func (w *Wiring) handleMedia(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "media")
	ev, ok, err := w.gate(ctx, c)
	if err != nil || !ok {
		return err
	}

	msg := c.Message()
	att, ok := attachmentFrom(msg)
	if !ok {
		logger.Warn(ctx, "wire", "media.unsupported")
		return nil
	}
	ev.Attachment = &att
	ev.GroupID = msg.AlbumID
	ev.Text = msg.Caption
	return w.flow.HandleEvent(ctx, ev)
}

func (w *Wiring) handleCallback(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "callback")
	// Acknowledge the press immediately; flow processing may wait on network.
	_ = c.Respond()

	ev, ok, err := w.gate(ctx, c)
	if err != nil || !ok {
		return err
	}

	token := callbacks.Token(c.Callback())
	if token == "" {
		logger.Debug(ctx, "wire", "callback.empty")
		return nil
	}
	act := flow.ParseAction(token)
	ev.Action = &act
	return w.flow.HandleEvent(ctx, ev)
}

// gate verifies activation and pre-fills the event identity. Unactivated
// users get the neutral reply and never reach the flow.
func (w *Wiring) gate(ctx context.Context, c tele.Context) (flow.Event, bool, error) {
	userID := c.Sender().ID
	active, err := w.verifier.Verified(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "wire", "access.check.fail", slog.String("err", err.Error()))
		return flow.Event{}, false, c.Send(texts.TryAgainLater)
	}
	if !active {
		return flow.Event{}, false, c.Send(texts.Neutral)
	}
	return flow.Event{UserID: userID, ChatID: c.Chat().ID}, true, nil
}

func attachmentFrom(msg *tele.Message) (session.Attachment, bool) {
	switch {
	case msg == nil:
		return session.Attachment{}, false
	case msg.Photo != nil:
		return session.Attachment{Kind: session.KindPhoto, Handle: session.FileHandle(msg.Photo.FileID)}, true
	case msg.Video != nil:
		return session.Attachment{Kind: session.KindVideo, Handle: session.FileHandle(msg.Video.FileID)}, true
	case msg.Document != nil:
		return session.Attachment{Kind: session.KindDocument, Handle: session.FileHandle(msg.Document.FileID)}, true
	default:
		return session.Attachment{}, false
	}
}
