// Package queue hands offline notifications to the asynchronous delivery pipeline.
package queue

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/protocol"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskOfflineEvent is consumed by the push/e-mail workers, outside this service.
const TaskOfflineEvent = "connect:offline_event"

const defaultMaxRetry = 5

type offlinePayload struct {
	RecipientID chat.ParticipantID `json:"recipientId"`
	Type        string             `json:"type"`
	Event       json.RawMessage    `json:"event"`
	At          time.Time          `json:"at"`
}

// AsynqNotifier enqueues one task per offline notification on a Redis-backed queue.
type AsynqNotifier struct {
	log      *slog.Logger
	client   *asynq.Client
	queue    string
	maxRetry int
}

var _ contract.OfflineNotifier = (*AsynqNotifier)(nil)

func NewAsynqNotifier(log *slog.Logger, redisURL, queue string) (*AsynqNotifier, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if queue == "" {
		queue = "default"
	}
	return &AsynqNotifier{log: log, client: asynq.NewClient(opt), queue: queue, maxRetry: defaultMaxRetry}, nil
}

func (n *AsynqNotifier) Notify(ctx context.Context, o event.OfflineNotification) error {
	task, err := buildTask(o)
	if err != nil {
		return err
	}
	info, err := n.client.EnqueueContext(ctx, task, asynq.Queue(n.queue), asynq.MaxRetry(n.maxRetry))
	if err != nil {
		return fmt.Errorf("asynq: enqueue %s: %w", TaskOfflineEvent, err)
	}
	n.log.Debug("Offline notification enqueued", "task_id", info.ID, "recipient_id", o.RecipientID, "type", o.Event.Name())
	return nil
}

func (n *AsynqNotifier) Close() error {
	return n.client.Close()
}

func buildTask(o event.OfflineNotification) (*asynq.Task, error) {
	raw, err := protocol.Encode(o.Event)
	if err != nil {
		return nil, fmt.Errorf("encode offline event: %w", err)
	}
	payload, err := json.Marshal(offlinePayload{
		RecipientID: o.RecipientID,
		Type:        o.Event.Name(),
		Event:       raw,
		At:          o.At.UTC(),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOfflineEvent, payload), nil
}

// LogNotifier only logs. Used when no queue is configured.
type LogNotifier struct {
	log *slog.Logger
}

var _ contract.OfflineNotifier = LogNotifier{}

func NewLogNotifier(log *slog.Logger) LogNotifier {
	return LogNotifier{log: log}
}

func (n LogNotifier) Notify(_ context.Context, o event.OfflineNotification) error {
	n.log.Info("Offline notification", "recipient_id", o.RecipientID, "type", o.Event.Name(), "at", o.At)
	return nil
}
