package middleware

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/whisperlane/whisperbot/core/logger"
	tghelpers "github.com/whisperlane/whisperbot/core/telegram/helpers"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	// ExcludeCallbacks lets button presses through; pressing through a
	// keyboard quickly is expected during the selection steps.
	ExcludeCallbacks bool
	OnLimited        tele.HandlerFunc
}

// RateLimitMiddleware returns a middleware that enforces a minimum interval
// between messages from the same user.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	var (
		userLastSeen   = make(map[int64]time.Time)
		userLastSeenMu sync.Mutex
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if opts.ExcludeCallbacks && c.Callback() != nil {
				return next(c)
			}
			// Attachment bursts arrive as near-simultaneous messages sharing
			// one album id; limiting them would starve the coalescer.
			if msg := c.Message(); msg != nil && msg.AlbumID != "" {
				return next(c)
			}

			now := time.Now()

			userLastSeenMu.Lock()
			if last, ok := userLastSeen[user.ID]; ok && now.Sub(last) < opts.Interval {
				userLastSeenMu.Unlock()
				ctx := tghelpers.BuildContext(c)
				logger.Warn(ctx, "tg", "tg.rate_limit",
					slog.Int64("user_id", user.ID),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}

			userLastSeen[user.ID] = now
			userLastSeenMu.Unlock()
			return next(c)
		}
	}
}
