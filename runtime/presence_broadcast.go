package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"context"
	"log/slog"
	"time"
)

const presenceRetryDelay = 250 * time.Millisecond

// PresenceBroadcaster turns registry transitions into user_online and
// user_offline events for the participant's contacts.
type PresenceBroadcaster struct {
	log        *slog.Logger
	registry   *PresenceRegistry
	store      *Store
	fanout     *Fanout
	retryDelay time.Duration
}

func NewPresenceBroadcaster(log *slog.Logger, registry *PresenceRegistry, store *Store, fanout *Fanout) *PresenceBroadcaster {
	return &PresenceBroadcaster{log: log, registry: registry, store: store, fanout: fanout, retryDelay: presenceRetryDelay}
}

func (b *PresenceBroadcaster) Notify() <-chan struct{} {
	return b.registry.Notify()
}

// Flush broadcasts every pending transition in order. A transition whose
// audience cannot be loaded is requeued once, together with the later
// transitions of the same participant, then dropped.
func (b *PresenceBroadcaster) Flush(ctx context.Context) int {
	transitions := b.registry.Drain()
	var (
		deferred []PresenceTransition
		held     = make(map[chat.ParticipantID]struct{})
	)
	for _, t := range transitions {
		if _, ok := held[t.ParticipantID]; ok {
			deferred = append(deferred, t)
			continue
		}
		contacts, err := b.store.Contacts(ctx, t.ParticipantID)
		if err != nil {
			if t.retried {
				b.log.Error("Presence transition dropped", "participant_id", t.ParticipantID, "online", t.Online, "error", err)
				continue
			}
			b.log.Warn("Presence audience unavailable, retrying", "participant_id", t.ParticipantID, "error", err)
			t.retried = true
			held[t.ParticipantID] = struct{}{}
			deferred = append(deferred, t)
			continue
		}
		var e event.Event = event.UserOnline{ParticipantID: t.ParticipantID}
		if !t.Online {
			e = event.UserOffline{ParticipantID: t.ParticipantID, LastSeen: t.At}
		}
		b.fanout.Deliver(ctx, contacts, e)
	}
	b.registry.Requeue(deferred, b.retryDelay)
	return len(transitions) - len(deferred)
}
