package runtime

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/errors"
	"context"
	"fmt"
	"log/slog"
)

// SendRequest targets either an existing conversation or a recipient.
type SendRequest struct {
	ConversationID chat.ConversationID
	RecipientID    chat.ParticipantID
	SenderID       chat.ParticipantID
	ConnectionID   chat.ConnectionID
	RequestID      string
	Content        chat.Content
}

// MessageRouter validates, sequences, persists and delivers messages.
// A message is delivered only once it has been appended.
type MessageRouter struct {
	log              *slog.Logger
	store            *Store
	directory        contract.ParticipantDirectory
	fanout           *Fanout
	typing           *TypingManager
	maxContentLength int
}

func NewMessageRouter(log *slog.Logger, store *Store, directory contract.ParticipantDirectory,
	fanout *Fanout, typing *TypingManager, maxContentLength int) *MessageRouter {
	return &MessageRouter{
		log:              log,
		store:            store,
		directory:        directory,
		fanout:           fanout,
		typing:           typing,
		maxContentLength: maxContentLength,
	}
}

func (r *MessageRouter) Send(ctx context.Context, req SendRequest) (chat.Message, error) {
	content, err := req.Content.Normalize(r.maxContentLength)
	if err != nil {
		return chat.Message{}, err
	}

	conversationID, err := r.resolve(ctx, req)
	if err != nil {
		return chat.Message{}, err
	}

	reply := Reply{ConnectionID: req.ConnectionID, RequestID: req.RequestID}
	delivery := context.WithoutCancel(ctx)
	msg, err := r.store.AppendMessage(ctx, conversationID, req.SenderID, content, func(conv chat.Conversation, m chat.Message) {
		offline := r.fanout.DeliverReplying(delivery, conv.Participants, event.NewMessage{
			Message:      event.NewMessageView(conv, m),
			Kind:         conv.Kind,
			Participants: conv.Participants,
		}, reply)
		r.log.Debug("Message delivered", "conversation_id", conv.ID, "seq", m.Seq, "offline", len(offline))
	})
	if err != nil {
		return chat.Message{}, err
	}

	r.typing.Stop(delivery, conversationID, req.SenderID)
	return msg, nil
}

func (r *MessageRouter) resolve(ctx context.Context, req SendRequest) (chat.ConversationID, error) {
	if req.ConversationID != "" {
		conv, err := r.store.GetForParticipant(ctx, req.ConversationID, req.SenderID)
		if err != nil {
			return "", err
		}
		return conv.ID, nil
	}
	if req.RecipientID == "" {
		return "", fmt.Errorf("%w: a conversation or a recipient is required", errors.ErrValidationFailed)
	}
	if req.RecipientID == req.SenderID {
		return "", fmt.Errorf("%w: cannot start a conversation with yourself", errors.ErrValidationFailed)
	}
	exists, err := r.directory.Exists(ctx, req.RecipientID)
	if err != nil {
		return "", fmt.Errorf("%w: directory: %v", errors.ErrInternal, err)
	}
	if !exists {
		return "", fmt.Errorf("%w: unknown recipient %s", errors.ErrValidationFailed, req.RecipientID)
	}
	conv, _, err := r.store.GetOrCreateDirect(ctx, req.SenderID, req.RecipientID)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}
