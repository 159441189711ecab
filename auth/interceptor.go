package auth

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const participantIDKey contextKey = "participant_id"

// WithParticipant injects the resolved identity for downstream handlers.
func WithParticipant(ctx context.Context, id chat.ParticipantID) context.Context {
	return context.WithValue(ctx, participantIDKey, id)
}

func ParticipantFromContext(ctx context.Context) (chat.ParticipantID, bool) {
	id, ok := ctx.Value(participantIDKey).(chat.ParticipantID)
	return id, ok && id != ""
}

// StreamAuthInterceptor validates the authorization metadata before a stream is accepted.
func StreamAuthInterceptor(resolver contract.IdentityResolver) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "metadata is missing")
		}

		values := md.Get("authorization")
		if len(values) == 0 {
			return status.Error(codes.Unauthenticated, "authorization token is missing")
		}

		participantID, err := resolver.ResolveParticipant(ss.Context(), values[0])
		if err != nil {
			return status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(srv, &authenticatedStream{
			ServerStream: ss,
			ctx:          WithParticipant(ss.Context(), participantID),
		})
	}
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context { return s.ctx }
