package server

import (
	"chat-connect/auth"
	"chat-connect/domain/chat"
	"chat-connect/errors"
	"chat-connect/infrastructure/grpc/wire"
	"chat-connect/protocol"
	"chat-connect/services"
	"chat-connect/sink"
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConnectStreamServer is implemented by anything serving the Connect stream.
type ConnectStreamServer interface {
	Connect(stream grpc.ServerStream) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*ConnectStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    wire.ConnectStream.StreamName,
		Handler:       connectHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConnectStreamServer).Connect(stream)
}

func RegisterConnectServer(s grpc.ServiceRegistrar, srv ConnectStreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type ConnectServer struct {
	log                  *slog.Logger
	service              services.IConnectService
	connectionBufferSize int
}

func NewConnectServer(log *slog.Logger, service services.IConnectService, connectionBufferSize int) *ConnectServer {
	return &ConnectServer{log: log, service: service, connectionBufferSize: connectionBufferSize}
}

// Connect serves one authenticated connection. The stream interceptor has
// already resolved the participant; inbound frames are handled on a reader
// goroutine while this one drains the outbound sink.
func (s *ConnectServer) Connect(stream grpc.ServerStream) error {
	participantID, ok := auth.ParticipantFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "participant is missing")
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	out := sink.NewConnectionSink(s.connectionBufferSize)
	session, err := s.service.Attach(ctx, participantID, out)
	if err != nil {
		return errors.MapToGRPCError(err)
	}
	defer session.Close(context.WithoutCancel(ctx))
	log := s.log.With("participant_id", participantID, "connection_id", session.ConnectionID())
	log.Debug("gRPC stream opened")

	go func() {
		for {
			var frame wire.Frame
			if err := stream.RecvMsg(&frame); err != nil {
				out.Close(chat.CloseNormal)
				return
			}
			_ = session.Handle(ctx, frame.Data)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			out.Close(chat.CloseNormal)
			return nil
		case <-out.Done():
			reason := out.Reason()
			if reason == chat.CloseNormal {
				s.flush(stream, out)
			}
			log.Debug("gRPC stream closed", "reason", reason)
			return statusFor(reason)
		case e := <-out.Events():
			frame, err := protocol.Encode(e)
			if err != nil {
				log.Error("Event encoding failed", "type", e.Name(), "error", err)
				continue
			}
			if err := stream.SendMsg(&wire.Frame{Data: frame}); err != nil {
				log.Warn("Failed to push event to stream", "error", err)
				out.Close(chat.CloseNormal)
				return err
			}
		}
	}
}

func (s *ConnectServer) flush(stream grpc.ServerStream, out *sink.ConnectionSink) {
	for {
		select {
		case e := <-out.Events():
			frame, err := protocol.Encode(e)
			if err != nil {
				continue
			}
			if err := stream.SendMsg(&wire.Frame{Data: frame}); err != nil {
				return
			}
		default:
			return
		}
	}
}

func statusFor(reason chat.CloseReason) error {
	switch reason {
	case chat.CloseAuthFailure:
		return status.Error(codes.Unauthenticated, reason.String())
	case chat.CloseTimeout:
		return status.Error(codes.DeadlineExceeded, reason.String())
	case chat.CloseServerError:
		return status.Error(codes.Internal, reason.String())
	default:
		return nil
	}
}
