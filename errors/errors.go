package errors

import (
	goerrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrUnauthenticated              = fmt.Errorf("unauthenticated")
	ErrParticipantNotInConversation = fmt.Errorf("participant not in conversation")
	ErrConversationNotFound         = fmt.Errorf("conversation not found")
	ErrValidationFailed             = fmt.Errorf("validation failed")
	ErrTimeout                      = fmt.Errorf("operation timed out")
	ErrInternal                     = fmt.Errorf("internal error")

	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrSlowConsumer     = fmt.Errorf("connection buffer exceeded")
	ErrMessageNotFound  = fmt.Errorf("message not found")
)

// Wire codes carried by the error event.
const (
	CodeUnauthenticated              = "unauthenticated"
	CodeParticipantNotInConversation = "participant_not_in_conversation"
	CodeConversationNotFound         = "conversation_not_found"
	CodeValidationFailed             = "validation_failed"
	CodeTimeout                      = "timeout"
	CodeInternal                     = "internal_error"
)

// Code returns the wire code of err. Anything outside the taxonomy is internal.
func Code(err error) string {
	switch {
	case goerrors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case goerrors.Is(err, ErrParticipantNotInConversation):
		return CodeParticipantNotInConversation
	case goerrors.Is(err, ErrConversationNotFound):
		return CodeConversationNotFound
	case goerrors.Is(err, ErrValidationFailed):
		return CodeValidationFailed
	case goerrors.Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// SafeMessage is the text a client is allowed to see.
// Validation failures keep their detail, every other failure is reduced to its sentinel.
func SafeMessage(err error) string {
	switch {
	case goerrors.Is(err, ErrValidationFailed):
		return err.Error()
	case goerrors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated.Error()
	case goerrors.Is(err, ErrParticipantNotInConversation):
		return ErrParticipantNotInConversation.Error()
	case goerrors.Is(err, ErrConversationNotFound):
		return ErrConversationNotFound.Error()
	case goerrors.Is(err, ErrTimeout):
		return ErrTimeout.Error()
	default:
		return ErrInternal.Error()
	}
}

// IsInternal reports whether err falls outside the client facing taxonomy.
func IsInternal(err error) bool {
	return Code(err) == CodeInternal
}

// MapToGRPCError converts a domain error into a gRPC status.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch Code(err) {
	case CodeUnauthenticated:
		return status.Error(codes.Unauthenticated, SafeMessage(err))
	case CodeParticipantNotInConversation:
		return status.Error(codes.PermissionDenied, SafeMessage(err))
	case CodeConversationNotFound:
		return status.Error(codes.NotFound, SafeMessage(err))
	case CodeValidationFailed:
		return status.Error(codes.InvalidArgument, SafeMessage(err))
	case CodeTimeout:
		return status.Error(codes.DeadlineExceeded, SafeMessage(err))
	default:
		return status.Error(codes.Internal, SafeMessage(err))
	}
}
