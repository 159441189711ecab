// Package chat contains the core concepts of the messaging system.
// No runtime, network, or storage logic should be added here.
package chat

import (
	"fmt"
	"sort"
)

type ParticipantID string

// Participant is display metadata owned by the directory. The core only reads it.
type Participant struct {
	ID          ParticipantID
	DisplayName string
	AvatarURL   string
}

// SortParticipants returns a sorted copy without duplicates.
func SortParticipants(ids []ParticipantID) []ParticipantID {
	seen := make(map[ParticipantID]struct{}, len(ids))
	out := make([]ParticipantID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DirectKey identifies the direct conversation of an unordered pair.
// Ids are opaque and may contain any separator, so the first one is length-prefixed.
func DirectKey(a, b ParticipantID) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s|%s", len(a), a, b)
}
