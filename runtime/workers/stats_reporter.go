package workers

import (
	"chat-connect/observability"
	"context"
	"log/slog"
	"time"
)

type StatsSource interface {
	Collect() (observability.Snapshot, error)
}

// StatsReporterWorker logs process and connection figures at a fixed interval.
type StatsReporterWorker struct {
	log      *slog.Logger
	source   StatsSource
	interval time.Duration
}

func NewStatsReporterWorker(log *slog.Logger, source StatsSource, interval time.Duration) *StatsReporterWorker {
	return &StatsReporterWorker{log: log, source: source, interval: interval}
}

func (w *StatsReporterWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s, err := w.source.Collect()
			if err != nil {
				w.log.Error("Failed to collect self stats", "error", err)
				continue
			}
			w.log.Info("Runtime stats",
				"connections", s.Connections,
				"online_participants", s.OnlineParticipants,
				"cpu_percent", s.CPUPercent,
				"rss_bytes", s.RSSBytes,
				"goroutines", s.Goroutines,
			)
		}
	}
}
