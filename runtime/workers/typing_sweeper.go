package workers

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 500 * time.Millisecond

type Expirer interface {
	Expire(ctx context.Context) int
}

// TypingSweeperWorker ends typing states whose window elapsed.
type TypingSweeperWorker struct {
	log      *slog.Logger
	expirer  Expirer
	interval time.Duration
}

func NewTypingSweeperWorker(log *slog.Logger, expirer Expirer, interval time.Duration) *TypingSweeperWorker {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &TypingSweeperWorker{log: log, expirer: expirer, interval: interval}
}

func (w *TypingSweeperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping typing sweeper")
			return nil
		case <-ticker.C:
			w.expirer.Expire(ctx)
		}
	}
}
