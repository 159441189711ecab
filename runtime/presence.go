package runtime

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"chat-connect/errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const presenceShards = 32

// Connection is one live session of a participant.
type Connection struct {
	ID            chat.ConnectionID
	ParticipantID chat.ParticipantID
	CreatedAt     time.Time
	Sink          contract.EventSink
	lastActivity  atomic.Int64
}

func NewConnection(participantID chat.ParticipantID, sink contract.EventSink, now time.Time) *Connection {
	c := &Connection{
		ID:            chat.ConnectionID(uuid.NewString()),
		ParticipantID: participantID,
		CreatedAt:     now,
		Sink:          sink,
	}
	c.Touch(now)
	return c
}

func (c *Connection) Touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// PresenceTransition is emitted when a participant goes online or,
// after the grace period, offline.
type PresenceTransition struct {
	ParticipantID chat.ParticipantID
	Online        bool
	At            time.Time
	retried       bool
}

type presenceState struct {
	conns      map[chat.ConnectionID]*Connection
	online     bool
	generation uint64
	timer      *time.Timer
}

type presenceShard struct {
	mu           sync.Mutex
	participants map[chat.ParticipantID]*presenceState
}

// PresenceRegistry tracks live connections per participant.
// Locks are partitioned by participant; transitions are queued in emission order.
type PresenceRegistry struct {
	log    *slog.Logger
	grace  time.Duration
	now    func() time.Time
	shards [presenceShards]*presenceShard
	conns  sync.Map
	closed atomic.Bool

	queueMu sync.Mutex
	queue   []PresenceTransition
	notify  chan struct{}
}

func NewPresenceRegistry(log *slog.Logger, grace time.Duration) *PresenceRegistry {
	r := &PresenceRegistry{
		log:    log,
		grace:  grace,
		now:    time.Now,
		notify: make(chan struct{}, 1),
	}
	for i := range r.shards {
		r.shards[i] = &presenceShard{participants: make(map[chat.ParticipantID]*presenceState)}
	}
	return r
}

func (r *PresenceRegistry) shard(id chat.ParticipantID) *presenceShard {
	return r.shards[stripe(string(id), presenceShards)]
}

// Register adds conn. The first live connection makes the participant online,
// unless an offline timer was pending, in which case it is cancelled silently.
func (r *PresenceRegistry) Register(conn *Connection) (bool, error) {
	if r.closed.Load() {
		return false, errors.ErrConnectionClosed
	}
	s := r.shard(conn.ParticipantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.participants[conn.ParticipantID]
	if !ok {
		st = &presenceState{conns: make(map[chat.ConnectionID]*Connection)}
		s.participants[conn.ParticipantID] = st
	}
	st.conns[conn.ID] = conn
	r.conns.Store(conn.ID, conn)

	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
		st.generation++
		r.log.Debug("Offline timer cancelled", "participant_id", conn.ParticipantID)
		return false, nil
	}
	if st.online {
		return false, nil
	}
	st.online = true
	r.publish(PresenceTransition{ParticipantID: conn.ParticipantID, Online: true, At: r.now()})
	return true, nil
}

// Unregister removes a connection. When it was the last one, the participant
// goes offline after the grace period unless a new connection arrives first.
func (r *PresenceRegistry) Unregister(id chat.ConnectionID) {
	value, ok := r.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	conn := value.(*Connection)
	s := r.shard(conn.ParticipantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.participants[conn.ParticipantID]
	if !ok {
		return
	}
	delete(st.conns, id)
	if len(st.conns) > 0 || !st.online || st.timer != nil {
		return
	}
	if r.closed.Load() {
		delete(s.participants, conn.ParticipantID)
		return
	}
	st.generation++
	generation := st.generation
	participantID := conn.ParticipantID
	st.timer = time.AfterFunc(r.grace, func() { r.expire(participantID, generation) })
}

// expire runs when a grace timer fires. A stale generation means the timer
// was cancelled or superseded after it started firing.
func (r *PresenceRegistry) expire(id chat.ParticipantID, generation uint64) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.participants[id]
	if !ok || st.generation != generation || len(st.conns) > 0 {
		return
	}
	delete(s.participants, id)
	r.publish(PresenceTransition{ParticipantID: id, Online: false, At: r.now()})
}

func (r *PresenceRegistry) Get(id chat.ConnectionID) (*Connection, bool) {
	value, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*Connection), true
}

func (r *PresenceRegistry) ConnectionsFor(id chat.ParticipantID) []*Connection {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.participants[id]
	if !ok {
		return nil
	}
	return lo.Values(st.conns)
}

// IsOnline stays true during the grace period.
func (r *PresenceRegistry) IsOnline(id chat.ParticipantID) bool {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.participants[id]
	return ok && st.online
}

func (r *PresenceRegistry) OnlineAmong(ids []chat.ParticipantID) []chat.ParticipantID {
	return lo.Filter(ids, func(id chat.ParticipantID, _ int) bool { return r.IsOnline(id) })
}

// Counts returns live connections and online participants.
func (r *PresenceRegistry) Counts() (connections int, participants int) {
	for _, s := range r.shards {
		s.mu.Lock()
		for _, st := range s.participants {
			connections += len(st.conns)
			if st.online {
				participants++
			}
		}
		s.mu.Unlock()
	}
	return connections, participants
}

func (r *PresenceRegistry) publish(t PresenceTransition) {
	r.queueMu.Lock()
	r.queue = append(r.queue, t)
	r.queueMu.Unlock()
	r.signal()
}

// Requeue puts transitions back ahead of newer ones and signals after delay.
func (r *PresenceRegistry) Requeue(transitions []PresenceTransition, delay time.Duration) {
	if len(transitions) == 0 {
		return
	}
	r.queueMu.Lock()
	r.queue = append(append([]PresenceTransition(nil), transitions...), r.queue...)
	r.queueMu.Unlock()
	time.AfterFunc(delay, r.signal)
}

func (r *PresenceRegistry) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Notify signals that Drain has something to return.
func (r *PresenceRegistry) Notify() <-chan struct{} {
	return r.notify
}

// Drain returns the pending transitions in emission order.
func (r *PresenceRegistry) Drain() []PresenceTransition {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	out := r.queue
	r.queue = nil
	return out
}

// Close stops every grace timer and closes every live connection.
func (r *PresenceRegistry) Close() {
	if r.closed.Swap(true) {
		return
	}
	var live []*Connection
	for _, s := range r.shards {
		s.mu.Lock()
		for _, st := range s.participants {
			if st.timer != nil {
				st.timer.Stop()
				st.timer = nil
			}
			st.generation++
			live = append(live, lo.Values(st.conns)...)
		}
		s.mu.Unlock()
	}
	for _, c := range live {
		c.Sink.Close(chat.CloseNormal)
	}
	r.log.Info("Presence registry closed", "connections", len(live))
}
