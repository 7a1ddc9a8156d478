// Package flow implements the conversation state machine: category and topic
// selection, content collection with media-group coalescing, optional
// moderation review, and the final confirmation that hands the draft to the
// delivery pipeline. All cross-event state lives in the session store; the
// machine itself holds no per-user state besides short-lived locks.
package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/bot/moderation"
	"github.com/whisperlane/whisperbot/bot/session"
	"github.com/whisperlane/whisperbot/bot/texts"
	coreconfig "github.com/whisperlane/whisperbot/core/config"
	"github.com/whisperlane/whisperbot/core/logger"
)

// Messenger renders prompts and acknowledgements back to the author.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (session.MessageRef, error)
	EditText(ctx context.Context, ref session.MessageRef, text string, markup *tele.ReplyMarkup) (session.MessageRef, error)
}

// Deliverer forwards a finished draft to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, s *session.Session) error
}

// Config carries the flow settings resolved at startup.
type Config struct {
	Categories []coreconfig.Choice
	Topics     []coreconfig.Choice
	// QuietWindow is how long an attachment burst must stay silent before it
	// is finalized.
	QuietWindow time.Duration
	// OpenBurstPolicy is coreconfig.OpenBurstFinalize or OpenBurstReject.
	OpenBurstPolicy string
	// ModerationEnabled gates the content check before confirmation.
	ModerationEnabled bool
}

// Event is one normalized inbound update. Exactly one of Action, Attachment,
// or plain Text describes what the user did.
type Event struct {
	UserID int64
	ChatID int64

	// Text is the message text, or the attachment caption when Attachment is
	// set.
	Text string

	Attachment *session.Attachment
	// GroupID correlates attachments that belong to one media group. Empty
	// for standalone attachments.
	GroupID string

	// Action is set for button presses.
	Action *Action
}

// Flow drives sessions through the conversation steps.
type Flow struct {
	cfg       Config
	store     session.Store
	scorer    moderation.Scorer
	messenger Messenger
	deliverer Deliverer
	locks     *keyedMutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs the flow. A nil scorer disables moderation regardless of
// config.
func New(cfg Config, store session.Store, scorer moderation.Scorer, messenger Messenger, deliverer Deliverer) *Flow {
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = time.Second
	}
	if cfg.OpenBurstPolicy == "" {
		cfg.OpenBurstPolicy = coreconfig.OpenBurstFinalize
	}
	if scorer == nil {
		scorer = moderation.Disabled{}
	}
	return &Flow{
		cfg:       cfg,
		store:     store,
		scorer:    scorer,
		messenger: messenger,
		deliverer: deliverer,
		locks:     newKeyedMutex(),
		now:       time.Now,
		sleep:     ctxSleep,
	}
}

// Begin opens a fresh session for an activated user and shows the first
// prompt. Any previous session is replaced.
func (f *Flow) Begin(ctx context.Context, userID, chatID int64) error {
	unlock := f.locks.Lock(userID)
	defer unlock()

	s := session.New(f.now())
	if err := f.renderTo(ctx, chatID, s, texts.CategoryPrompt, texts.CategoryKeyboard(f.cfg.Categories)); err != nil {
		return err
	}
	return f.store.Put(ctx, userID, s)
}

// HandleEvent routes one inbound event. Events from users without a live
// session get a neutral reply and cause no state change.
func (f *Flow) HandleEvent(ctx context.Context, ev Event) error {
	switch {
	case ev.Action != nil:
		return f.handleAction(ctx, ev)
	case ev.Attachment != nil:
		return f.handleAttachment(ctx, ev)
	default:
		return f.handleText(ctx, ev)
	}
}

func (f *Flow) handleAction(ctx context.Context, ev Event) error {
	unlock := f.locks.Lock(ev.UserID)

	s, err := f.load(ctx, ev.UserID)
	if err != nil || s == nil {
		unlock()
		return f.neutral(ctx, ev.ChatID)
	}

	if s.BurstOpen() {
		if done, err := f.settleOpenBurst(ctx, ev, s); done {
			unlock()
			return err
		}
	}

	act := *ev.Action
	switch act.Kind {
	case ActionSelectCategory:
		if s.Step != session.StepAwaitingCategory || !validCode(f.cfg.Categories, act.Value) {
			err := f.guidance(ctx, ev.ChatID, s)
			unlock()
			return err
		}
		s.Category = act.Value
		s.Step = session.StepAwaitingTopic
		err := f.renderAndPut(ctx, ev, s, texts.TopicPrompt, texts.TopicKeyboard(f.cfg.Topics))
		unlock()
		return err

	case ActionSelectTopic:
		if s.Step != session.StepAwaitingTopic || !validCode(f.cfg.Topics, act.Value) {
			err := f.guidance(ctx, ev.ChatID, s)
			unlock()
			return err
		}
		s.Topic = act.Value
		s.Step = session.StepAwaitingContent
		err := f.renderAndPut(ctx, ev, s, texts.ContentPrompt, nil)
		unlock()
		return err

	case ActionConfirmSend:
		if s.Step != session.StepAwaitingConfirm {
			err := f.guidance(ctx, ev.ChatID, s)
			unlock()
			return err
		}
		unlock()
		return f.deliver(ctx, ev, s.Clone())

	case ActionReviewSend:
		if s.Step != session.StepModerationReview {
			err := f.guidance(ctx, ev.ChatID, s)
			unlock()
			return err
		}
		unlock()
		return f.deliver(ctx, ev, s.Clone())

	case ActionReviewRewrite:
		if s.Step != session.StepModerationReview {
			err := f.guidance(ctx, ev.ChatID, s)
			unlock()
			return err
		}
		s.ClearContent()
		s.Step = session.StepAwaitingContent
		err := f.renderAndPut(ctx, ev, s, texts.ContentPrompt, nil)
		unlock()
		return err

	case ActionConfirmCancel:
		if s.Step != session.StepAwaitingConfirm {
			err := f.guidance(ctx, ev.ChatID, s)
			unlock()
			return err
		}
		s.Restart()
		err := f.renderAndPut(ctx, ev, s, texts.Cancelled+"\n\n"+texts.CategoryPrompt, texts.CategoryKeyboard(f.cfg.Categories))
		unlock()
		return err

	default:
		logger.Debug(ctx, "flow", "action.unknown", slog.String("token", logger.SanitizeLimit(act.Value, 64)))
		err := f.guidance(ctx, ev.ChatID, s)
		unlock()
		return err
	}
}

func (f *Flow) handleText(ctx context.Context, ev Event) error {
	unlock := f.locks.Lock(ev.UserID)
	defer unlock()

	s, err := f.load(ctx, ev.UserID)
	if err != nil || s == nil {
		return f.neutral(ctx, ev.ChatID)
	}

	if s.BurstOpen() {
		if done, err := f.settleOpenBurst(ctx, ev, s); done {
			return err
		}
	}

	if s.Step != session.StepAwaitingContent {
		return f.guidance(ctx, ev.ChatID, s)
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		_, err := f.messenger.SendText(ctx, ev.ChatID, texts.EmptyContent, nil)
		return err
	}

	s.Text = text
	return f.finalizeLocked(ctx, ev, s)
}

func (f *Flow) handleAttachment(ctx context.Context, ev Event) error {
	unlock := f.locks.Lock(ev.UserID)

	s, err := f.load(ctx, ev.UserID)
	if err != nil || s == nil {
		unlock()
		return f.neutral(ctx, ev.ChatID)
	}

	// A different group while a burst is still open means the previous burst
	// lost its quiet window; settle it before looking at this event.
	if s.BurstOpen() && s.PendingGroupID != ev.GroupID {
		if done, err := f.settleOpenBurst(ctx, ev, s); done {
			unlock()
			return err
		}
	}

	switch s.Step {
	case session.StepAwaitingContent:
	case session.StepAwaitingConfirm, session.StepModerationReview:
		// An attachment after the recap is an afterthought upload, including
		// burst members that missed their quiet window. The draft reopens and
		// the recap is rebuilt with the extended set.
		s.Step = session.StepAwaitingContent
		s.ModerationLabel = moderation.LabelNone
	default:
		err := f.guidance(ctx, ev.ChatID, s)
		unlock()
		return err
	}

	s.Attachments = append(s.Attachments, *ev.Attachment)
	if caption := strings.TrimSpace(ev.Text); caption != "" && s.Text == "" {
		s.Text = caption
	}

	if ev.GroupID == "" {
		err := f.finalizeLocked(ctx, ev, s)
		unlock()
		return err
	}

	stamp := f.now().UnixNano()
	s.PendingGroupID = ev.GroupID
	s.LastAttachmentAt = stamp
	if err := f.store.Put(ctx, ev.UserID, s); err != nil {
		unlock()
		return err
	}

	// The quiet-window wait must run without the user lock so further burst
	// members can append meanwhile.
	unlock()
	return f.debounceByStamp(ctx, ev, stamp)
}

// settleOpenBurst applies the open-burst policy when a non-burst event lands
// while attachments are still being coalesced. It reports whether the caller
// should stop processing the triggering event.
func (f *Flow) settleOpenBurst(ctx context.Context, ev Event, s *session.Session) (bool, error) {
	if f.cfg.OpenBurstPolicy == coreconfig.OpenBurstReject {
		_, err := f.messenger.SendText(ctx, ev.ChatID, texts.BurstSettling, nil)
		return true, err
	}
	logger.Debug(ctx, "flow", "burst.finalize.early", slog.String("group_id", s.PendingGroupID))
	if err := f.finalizeLocked(ctx, ev, s); err != nil {
		return true, err
	}
	return false, nil
}

// finalizeLocked closes content collection: it clears the burst marker, runs
// moderation, advances the step, and renders the recap. The caller holds the
// user lock.
func (f *Flow) finalizeLocked(ctx context.Context, ev Event, s *session.Session) error {
	s.PendingGroupID = ""
	s.LastAttachmentAt = 0

	if s.Text == "" && len(s.Attachments) == 0 {
		_, err := f.messenger.SendText(ctx, ev.ChatID, texts.EmptyContent, nil)
		return err
	}

	label := moderation.LabelClear
	if f.cfg.ModerationEnabled && s.Text != "" {
		var err error
		label, err = f.scorer.Score(ctx, s.Text)
		if err != nil {
			// Moderation faults never block the author.
			logger.Warn(ctx, "flow", "moderation.degraded", slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
			label = moderation.LabelClear
		}
	}
	s.ModerationLabel = label

	catTitle := titleOf(f.cfg.Categories, s.Category)
	topTitle := titleOf(f.cfg.Topics, s.Topic)

	if label == moderation.LabelFlagged {
		s.Step = session.StepModerationReview
		return f.renderAndPut(ctx, ev, s,
			texts.ReviewSummary(catTitle, topTitle, s.Text, len(s.Attachments)),
			texts.ReviewKeyboard())
	}

	s.Step = session.StepAwaitingConfirm
	return f.renderAndPut(ctx, ev, s,
		texts.ConfirmSummary(catTitle, topTitle, s.Text, len(s.Attachments)),
		texts.ConfirmKeyboard())
}

// deliver runs the delivery pipeline outside the user lock, then acknowledges
// and drops the session. A concurrent send that already removed the session
// degrades to the neutral reply, which keeps repeated confirmations harmless.
func (f *Flow) deliver(ctx context.Context, ev Event, snapshot *session.Session) error {
	if err := f.deliverer.Deliver(ctx, snapshot); err != nil {
		logger.Error(ctx, "flow", "delivery.fail", slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		_, serr := f.messenger.SendText(ctx, ev.ChatID, texts.DeliveryFailed, nil)
		if serr != nil {
			return serr
		}
		return err
	}

	unlock := f.locks.Lock(ev.UserID)
	defer unlock()

	s, err := f.load(ctx, ev.UserID)
	if err != nil || s == nil {
		// Another event already closed the session; the delivery itself
		// succeeded, so there is nothing left to acknowledge.
		return nil
	}
	if err := f.store.Delete(ctx, ev.UserID); err != nil {
		logger.Warn(ctx, "flow", "session.delete.fail", slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	logger.Info(ctx, "flow", "delivery.success",
		slog.String("category", snapshot.Category),
		slog.String("topic", snapshot.Topic),
		slog.Int("attachments", len(snapshot.Attachments)),
	)
	return f.renderTo(ctx, ev.ChatID, s, texts.Delivered, nil)
}

// load reads the session, degrading store faults to "absent" so a flaky
// backend yields the neutral path instead of an error the user cannot act on.
func (f *Flow) load(ctx context.Context, userID int64) (*session.Session, error) {
	s, err := f.store.Get(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "flow", "session.load.fail", slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		return nil, err
	}
	return s, nil
}

func (f *Flow) neutral(ctx context.Context, chatID int64) error {
	_, err := f.messenger.SendText(ctx, chatID, texts.Neutral, nil)
	return err
}

// guidance re-renders the prompt for the session's current step without
// changing state.
func (f *Flow) guidance(ctx context.Context, chatID int64, s *session.Session) error {
	text, markup := f.promptFor(s)
	return f.renderTo(ctx, chatID, s, text, markup)
}

func (f *Flow) promptFor(s *session.Session) (string, *tele.ReplyMarkup) {
	switch s.Step {
	case session.StepAwaitingCategory:
		return texts.CategoryPrompt, texts.CategoryKeyboard(f.cfg.Categories)
	case session.StepAwaitingTopic:
		return texts.TopicPrompt, texts.TopicKeyboard(f.cfg.Topics)
	case session.StepAwaitingContent:
		return texts.ContentPrompt, nil
	case session.StepModerationReview:
		return texts.ReviewSummary(titleOf(f.cfg.Categories, s.Category), titleOf(f.cfg.Topics, s.Topic), s.Text, len(s.Attachments)), texts.ReviewKeyboard()
	default:
		return texts.ConfirmSummary(titleOf(f.cfg.Categories, s.Category), titleOf(f.cfg.Topics, s.Topic), s.Text, len(s.Attachments)), texts.ConfirmKeyboard()
	}
}

// renderAndPut renders into the anchor and persists the session in one step.
func (f *Flow) renderAndPut(ctx context.Context, ev Event, s *session.Session, text string, markup *tele.ReplyMarkup) error {
	if err := f.renderTo(ctx, ev.ChatID, s, text, markup); err != nil {
		return err
	}
	return f.store.Put(ctx, ev.UserID, s)
}

// renderTo edits the anchor message in place when one exists, falling back to
// a fresh send. The resulting reference becomes the new anchor.
func (f *Flow) renderTo(ctx context.Context, chatID int64, s *session.Session, text string, markup *tele.ReplyMarkup) error {
	if !s.Anchor.Zero() {
		ref, err := f.messenger.EditText(ctx, s.Anchor, text, markup)
		if err == nil {
			s.Anchor = ref
			return nil
		}
		logger.Debug(ctx, "flow", "anchor.edit.fallback", slog.String("err", logger.SanitizeLimit(err.Error(), 128)))
	}
	ref, err := f.messenger.SendText(ctx, chatID, text, markup)
	if err != nil {
		return err
	}
	s.Anchor = ref
	return nil
}

func validCode(choices []coreconfig.Choice, code string) bool {
	for _, c := range choices {
		if c.Code == code {
			return true
		}
	}
	return false
}

func titleOf(choices []coreconfig.Choice, code string) string {
	for _, c := range choices {
		if c.Code == code {
			return c.Title
		}
	}
	return code
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
