package services

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/errors"
	"chat-connect/protocol"
	"chat-connect/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// IConnectService is what every transport needs from the core.
type IConnectService interface {
	Open(ctx context.Context, credential string, sink contract.EventSink) (*Session, error)
	Attach(ctx context.Context, participantID chat.ParticipantID, sink contract.EventSink) (*Session, error)
}

type ConnectService struct {
	log          *slog.Logger
	resolver     contract.IdentityResolver
	orchestrator *runtime.Orchestrator
}

func NewConnectService(log *slog.Logger, resolver contract.IdentityResolver, o *runtime.Orchestrator) *ConnectService {
	return &ConnectService{log: log, resolver: resolver, orchestrator: o}
}

// Open authenticates the credential before anything is registered.
// Callers close the connection with an auth failure on ErrUnauthenticated.
func (s *ConnectService) Open(ctx context.Context, credential string, sink contract.EventSink) (*Session, error) {
	participantID, err := s.resolver.ResolveParticipant(ctx, credential)
	if err != nil {
		s.log.Debug("Connection refused", "error", err)
		return nil, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}
	return s.Attach(ctx, participantID, sink)
}

// Attach opens a session for an already authenticated participant.
func (s *ConnectService) Attach(ctx context.Context, participantID chat.ParticipantID, sink contract.EventSink) (*Session, error) {
	conn, err := s.orchestrator.Connect(ctx, participantID, sink)
	if err != nil {
		return nil, err
	}
	return &Session{log: s.log, orchestrator: s.orchestrator, conn: conn}, nil
}

// Session is one authenticated connection. Handle is called by a single reader goroutine.
type Session struct {
	log          *slog.Logger
	orchestrator *runtime.Orchestrator
	conn         *runtime.Connection
	once         sync.Once
}

func (s *Session) ParticipantID() chat.ParticipantID { return s.conn.ParticipantID }

func (s *Session) ConnectionID() chat.ConnectionID { return s.conn.ID }

// Handle decodes and executes one inbound frame. Failures never end the
// session: they are reported to the client as an error event and returned.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	cmd, requestID, err := protocol.Decode(raw)
	if err == nil {
		err = s.orchestrator.Dispatch(ctx, s.conn, cmd, requestID)
	}
	if err == nil {
		return nil
	}
	if errors.IsInternal(err) {
		s.log.Error("Intent failed", "participant_id", s.conn.ParticipantID, "request_id", requestID, "error", err)
	} else {
		s.log.Debug("Intent rejected", "participant_id", s.conn.ParticipantID, "request_id", requestID, "error", err)
	}
	if sendErr := s.conn.Sink.Consume(ctx, event.Error{
		Message:   errors.SafeMessage(err),
		Code:      errors.Code(err),
		RequestID: requestID,
	}); sendErr != nil {
		s.log.Warn("Error event dropped", "connection_id", s.conn.ID, "error", sendErr)
	}
	return err
}

// Close unregisters the connection. It is idempotent.
func (s *Session) Close(ctx context.Context) {
	s.once.Do(func() {
		s.orchestrator.Disconnect(ctx, s.conn)
	})
}
