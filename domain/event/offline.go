package event

import (
	"chat-connect/domain/chat"
	"time"
)

// OfflineNotification is handed to the notification collaborator for a
// participant that had no live connection when Event was produced.
type OfflineNotification struct {
	RecipientID chat.ParticipantID
	Event       Event
	At          time.Time
}

// Kinds lists the event types worth an offline notification.
type Kinds map[string]struct{}

func NewKinds(names ...string) Kinds {
	k := make(Kinds, len(names))
	for _, n := range names {
		if n != "" {
			k[n] = struct{}{}
		}
	}
	return k
}

func (k Kinds) Contains(name string) bool {
	_, ok := k[name]
	return ok
}
