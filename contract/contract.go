//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging during supervision, so workers don't carry a name themselves.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one live connection.
// Consume must never block; a sink that cannot keep up closes itself.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
	Close(reason chat.CloseReason)
}

type IdentityResolver interface {
	ResolveParticipant(ctx context.Context, credential string) (chat.ParticipantID, error)
}

// ParticipantDirectory is the read-only view on participant metadata.
type ParticipantDirectory interface {
	Lookup(ctx context.Context, ids []chat.ParticipantID) (map[chat.ParticipantID]chat.Participant, error)
	Exists(ctx context.Context, id chat.ParticipantID) (bool, error)
}

// OfflineNotifier hands events to the asynchronous notification pipeline.
type OfflineNotifier interface {
	Notify(ctx context.Context, n event.OfflineNotification) error
}

// ConversationRepository is the backing store of conversations and messages.
// CreateDirect is an atomic check-and-create on the participant pair: it returns
// the stored conversation when one already exists.
type ConversationRepository interface {
	CreateDirect(ctx context.Context, conv chat.Conversation) (chat.Conversation, bool, error)
	CreateConversation(ctx context.Context, conv chat.Conversation) error
	GetConversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error)
	SaveConversation(ctx context.Context, conv chat.Conversation) error
	ListConversationIDs(ctx context.Context, participantID chat.ParticipantID) ([]chat.ConversationID, error)
	AppendMessage(ctx context.Context, conv chat.Conversation, msg chat.Message) error
	GetMessage(ctx context.Context, conversationID chat.ConversationID, id chat.MessageID) (chat.Message, error)
	ListMessagesBefore(ctx context.Context, conversationID chat.ConversationID, beforeSeq int64, limit int) ([]chat.Message, error)
	ListMessagesRange(ctx context.Context, conversationID chat.ConversationID, fromSeq, toSeq int64) ([]chat.Message, error)
}
