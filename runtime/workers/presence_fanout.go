package workers

import (
	"context"
	"log/slog"
)

// PresenceFeed exposes queued presence transitions.
type PresenceFeed interface {
	Notify() <-chan struct{}
	Flush(ctx context.Context) int
}

// PresenceFanoutWorker is the single consumer of presence transitions,
// which keeps user_online and user_offline in emission order.
type PresenceFanoutWorker struct {
	log  *slog.Logger
	feed PresenceFeed
}

func NewPresenceFanoutWorker(log *slog.Logger, feed PresenceFeed) *PresenceFanoutWorker {
	return &PresenceFanoutWorker{log: log, feed: feed}
}

func (w *PresenceFanoutWorker) Run(ctx context.Context) error {
	// Transitions queued before a restart.
	w.feed.Flush(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping presence fanout")
			return nil
		case <-w.feed.Notify():
			if n := w.feed.Flush(ctx); n > 0 {
				w.log.Debug("Presence transitions broadcast", "count", n)
			}
		}
	}
}
