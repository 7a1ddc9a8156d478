package flow

import (
	"context"
	"log/slog"

	"github.com/whisperlane/whisperbot/core/logger"
)

// debounceByStamp waits out the quiet window and finalizes the burst only if
// no newer attachment arrived meanwhile. Every burst member schedules one of
// these; the freshness stamp guarantees that exactly the last one wins, so
// the burst becomes a single build regardless of its size.
func (f *Flow) debounceByStamp(ctx context.Context, ev Event, stamp int64) error {
	if err := f.sleep(ctx, f.cfg.QuietWindow); err != nil {
		return err
	}

	unlock := f.locks.Lock(ev.UserID)
	defer unlock()

	s, err := f.load(ctx, ev.UserID)
	if err != nil || s == nil {
		// Session expired or was finalized by a later event.
		return nil
	}
	if !s.BurstOpen() || s.LastAttachmentAt != stamp {
		// A newer attachment superseded this wait, or the burst already
		// settled another way.
		return nil
	}

	logger.Debug(ctx, "flow", "burst.settled",
		slog.String("group_id", s.PendingGroupID),
		slog.Int("attachments", len(s.Attachments)),
	)
	return f.finalizeLocked(ctx, ev, s)
}
