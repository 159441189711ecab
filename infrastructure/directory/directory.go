// Package directory provides the participant metadata the core reads but never owns.
package directory

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"context"
)

// OpenDirectory knows every participant and names them after their id.
// It is the default when no directory backend is configured.
type OpenDirectory struct{}

var _ contract.ParticipantDirectory = OpenDirectory{}

func (OpenDirectory) Lookup(_ context.Context, ids []chat.ParticipantID) (map[chat.ParticipantID]chat.Participant, error) {
	out := make(map[chat.ParticipantID]chat.Participant, len(ids))
	for _, id := range ids {
		out[id] = chat.Participant{ID: id, DisplayName: string(id)}
	}
	return out, nil
}

func (OpenDirectory) Exists(_ context.Context, id chat.ParticipantID) (bool, error) {
	return id != "", nil
}
