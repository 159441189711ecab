package workers

import (
	"chat-connect/contract"
	"chat-connect/domain/event"
	"context"
	"log/slog"
	"time"
)

// OfflineNotifierWorker forwards events for participants without a live
// connection to the notification collaborator. Each call is bounded by timeout;
// a failed notification is logged and dropped.
type OfflineNotifierWorker struct {
	log      *slog.Logger
	pending  <-chan event.OfflineNotification
	notifier contract.OfflineNotifier
	timeout  time.Duration
}

func NewOfflineNotifierWorker(log *slog.Logger, pending <-chan event.OfflineNotification,
	notifier contract.OfflineNotifier, timeout time.Duration) *OfflineNotifierWorker {
	return &OfflineNotifierWorker{log: log, pending: pending, notifier: notifier, timeout: timeout}
}

func (w *OfflineNotifierWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping offline notifications")
			return nil
		case n := <-w.pending:
			w.notify(ctx, n)
		}
	}
}

func (w *OfflineNotifierWorker) notify(ctx context.Context, n event.OfflineNotification) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.log.Warn("Offline notification failed", "participant_id", n.RecipientID,
			"event", n.Event.Name(), "error", err)
	}
}
