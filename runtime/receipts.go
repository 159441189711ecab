package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"context"
	"log/slog"
)

// ReceiptTracker records reads and tells the original senders about them.
type ReceiptTracker struct {
	log    *slog.Logger
	store  *Store
	fanout *Fanout
}

func NewReceiptTracker(log *slog.Logger, store *Store, fanout *Fanout) *ReceiptTracker {
	return &ReceiptTracker{log: log, store: store, fanout: fanout}
}

// MarkRead emits messages_read to the senders of the newly read messages only.
func (t *ReceiptTracker) MarkRead(ctx context.Context, conversationID chat.ConversationID,
	reader chat.ParticipantID, upTo chat.MessageID) (ReadResult, error) {
	result, err := t.store.MarkRead(ctx, conversationID, reader, upTo)
	if err != nil || !result.Changed {
		return result, err
	}
	t.fanout.Deliver(context.WithoutCancel(ctx), result.Senders, event.MessagesRead{
		ConversationID: conversationID,
		ReaderID:       reader,
		MessageID:      result.UpTo.ID,
		Seq:            result.UpTo.Seq,
		ReadAt:         result.ReadAt,
	})
	t.log.Debug("Messages read", "conversation_id", conversationID, "participant_id", reader,
		"seq", result.UpTo.Seq, "senders", len(result.Senders))
	return result, nil
}
