package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/infrastructure/storage"
	"chat-connect/mocks"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type RecordingSink struct {
	mu     sync.Mutex
	events []event.Event
	closed []chat.CloseReason
}

func (s *RecordingSink) Consume(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *RecordingSink) Close(reason chat.CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, reason)
}

func (s *RecordingSink) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

// Named returns the unwrapped events called name.
func (s *RecordingSink) Named(name string) []event.Event {
	var out []event.Event
	for _, e := range s.Events() {
		if e.Name() == name {
			inner, _ := event.Unwrap(e)
			out = append(out, inner)
		}
	}
	return out
}

func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func newTestRepository(t *testing.T) *storage.BadgerRepository {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewBadgerRepository(db, slog.Default())
}

type harness struct {
	log       *slog.Logger
	registry  *PresenceRegistry
	store     *Store
	fanout    *Fanout
	typing    *TypingManager
	receipts  *ReceiptTracker
	router    *MessageRouter
	offline   chan event.OfflineNotification
	directory *mocks.MockParticipantDirectory
}

// newHarness wires the core on an in-memory repository with a directory that knows everybody.
func newHarness(t *testing.T) *harness {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockParticipantDirectory(ctrl)
	directory.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()

	offline := make(chan event.OfflineNotification, 16)
	registry := NewPresenceRegistry(log, 50*time.Millisecond)
	store := NewStore(log, newTestRepository(t), 2*time.Second, nil)
	fanout := NewFanout(log, registry, offline, event.NewKinds(event.TypeNewMessage, event.TypeMessagesRead))
	typing := NewTypingManager(log, fanout, 3*time.Second)
	return &harness{
		log:       log,
		registry:  registry,
		store:     store,
		fanout:    fanout,
		typing:    typing,
		receipts:  NewReceiptTracker(log, store, fanout),
		router:    NewMessageRouter(log, store, directory, fanout, typing, 1000),
		offline:   offline,
		directory: directory,
	}
}

func (h *harness) connect(t *testing.T, p chat.ParticipantID) (*Connection, *RecordingSink) {
	sink := &RecordingSink{}
	conn := NewConnection(p, sink, time.Now())
	_, err := h.registry.Register(conn)
	require.NoError(t, err)
	return conn, sink
}

func (h *harness) send(t *testing.T, conversationID chat.ConversationID, sender chat.ParticipantID, text string) chat.Message {
	msg, err := h.router.Send(context.Background(), SendRequest{
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        chat.Content{Type: chat.ContentText, Text: text},
	})
	require.NoError(t, err)
	return msg
}

func text(s string) chat.Content {
	return chat.Content{Type: chat.ContentText, Text: s}
}

// tick returns a clock moving one second forward on every call.
func tick(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
