package services

import (
	"chat-connect/auth"
	"chat-connect/domain/event"
	"chat-connect/errors"
	"chat-connect/infrastructure/storage"
	"chat-connect/mocks"
	"chat-connect/runtime"
	"chat-connect/runtime/workers"
	"chat-connect/sink"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const secret = "test-secret"

func newTestService(t *testing.T) *ConnectService {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctrl := gomock.NewController(t)
	directory := mocks.NewMockParticipantDirectory(ctrl)
	directory.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()

	log := slog.Default()
	o := runtime.NewOrchestrator(log, workers.NewSupervisor(log, 0), storage.NewBadgerRepository(db, log), directory, nil,
		runtime.Options{BufferSize: 8, StoreTimeout: time.Second, PresenceGrace: time.Second, TypingTimeout: 3 * time.Second, MaxContentLength: 100})
	return NewConnectService(log, auth.NewTokenResolver(secret, ""), o)
}

func drain(s *sink.ConnectionSink) []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-s.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestConnectService_Open_RejectsBadCredential(t *testing.T) {
	req := require.New(t)
	service := newTestService(t)

	_, err := service.Open(context.Background(), "Bearer nope", sink.NewConnectionSink(8))

	req.ErrorIs(err, errors.ErrUnauthenticated)
}

func TestSession_Handle(t *testing.T) {
	req := require.New(t)
	service := newTestService(t)
	token, err := auth.NewTokenResolver(secret, "").GenerateToken("alice", nil, time.Minute)
	req.NoError(err)

	// Given an open session for alice
	out := sink.NewConnectionSink(8)
	session, err := service.Open(context.Background(), "Bearer "+token, out)
	req.NoError(err)
	defer session.Close(context.Background())
	req.Equal("alice", string(session.ParticipantID()))
	drain(out)

	// When she pings
	req.NoError(session.Handle(context.Background(), []byte(`{"type":"ping","requestId":"r1"}`)))

	// Then the pong is tagged with the request id
	events := drain(out)
	req.Len(events, 1)
	inner, requestID := event.Unwrap(events[0])
	req.Equal(event.TypePong, inner.Name())
	req.Equal("r1", requestID)

	// When she sends a malformed frame
	err = session.Handle(context.Background(), []byte(`{"type":"send_message","requestId":"r2","payload":{"conversationId":""}}`))

	// Then an error event carries the validation code and the request id
	req.ErrorIs(err, errors.ErrValidationFailed)
	events = drain(out)
	req.Len(events, 1)
	e := events[0].(event.Error)
	req.Equal(errors.CodeValidationFailed, e.Code)
	req.Equal("r2", e.RequestID)

	// And an unknown conversation is reported as such
	err = session.Handle(context.Background(), []byte(`{"type":"get_messages","payload":{"conversationId":"missing"}}`))
	req.ErrorIs(err, errors.ErrConversationNotFound)
	e = drain(out)[0].(event.Error)
	req.Equal(errors.CodeConversationNotFound, e.Code)
	req.Equal(errors.ErrConversationNotFound.Error(), e.Message)
}
