package chat

import "time"

type ConnectionID string

// CloseReason is why the core ends a connection. Transports map it to their own codes.
type CloseReason int

const (
	CloseNormal CloseReason = iota
	CloseAuthFailure
	CloseTimeout
	CloseServerError
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseAuthFailure:
		return "auth-failure"
	case CloseTimeout:
		return "timeout"
	case CloseServerError:
		return "server-error"
	default:
		return "unknown"
	}
}

// TypingState lives in memory only and expires on its own.
type TypingState struct {
	ConversationID ConversationID
	ParticipantID  ParticipantID
	ConnectionID   ConnectionID
	Audience       []ParticipantID
	StartedAt      time.Time
	ExpiresAt      time.Time
}
