package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"context"
	"log/slog"
	"time"
)

// Reply marks the connection that issued the request being answered.
type Reply struct {
	ConnectionID chat.ConnectionID
	RequestID    string
}

// Fanout delivers events to every live connection of the recipients and
// queues offline notifications for recipients without any.
// Delivery never blocks: a connection that cannot keep up closes itself.
type Fanout struct {
	log      *slog.Logger
	registry *PresenceRegistry
	offline  chan<- event.OfflineNotification
	kinds    event.Kinds
	now      func() time.Time
}

func NewFanout(log *slog.Logger, registry *PresenceRegistry, offline chan<- event.OfflineNotification, kinds event.Kinds) *Fanout {
	return &Fanout{log: log, registry: registry, offline: offline, kinds: kinds, now: time.Now}
}

// Deliver returns the recipients that had no live connection.
func (f *Fanout) Deliver(ctx context.Context, recipients []chat.ParticipantID, e event.Event) []chat.ParticipantID {
	return f.DeliverReplying(ctx, recipients, e, Reply{})
}

// DeliverReplying is Deliver where the requesting connection gets the event tagged with its request id.
func (f *Fanout) DeliverReplying(ctx context.Context, recipients []chat.ParticipantID, e event.Event, reply Reply) []chat.ParticipantID {
	var offline []chat.ParticipantID
	for _, p := range recipients {
		conns := f.registry.ConnectionsFor(p)
		if len(conns) == 0 {
			offline = append(offline, p)
			continue
		}
		for _, c := range conns {
			out := e
			if reply.RequestID != "" && c.ID == reply.ConnectionID {
				out = event.Reply{RequestID: reply.RequestID, Event: e}
			}
			f.Send(ctx, c, out)
		}
	}
	for _, p := range offline {
		f.notifyOffline(p, e)
	}
	return offline
}

// Send pushes one event to one connection.
func (f *Fanout) Send(ctx context.Context, c *Connection, e event.Event) {
	if err := c.Sink.Consume(ctx, e); err != nil {
		f.log.Warn("Event dropped", "connection_id", c.ID, "participant_id", c.ParticipantID,
			"event", e.Name(), "error", err)
	}
}

func (f *Fanout) notifyOffline(p chat.ParticipantID, e event.Event) {
	if f.offline == nil || !f.kinds.Contains(e.Name()) {
		return
	}
	select {
	case f.offline <- event.OfflineNotification{RecipientID: p, Event: e, At: f.now().UTC()}:
	default:
		f.log.Warn("Offline notification queue full, notification lost", "participant_id", p, "event", e.Name())
	}
}
