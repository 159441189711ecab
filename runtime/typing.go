package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"
)

type typingKey struct {
	conversation chat.ConversationID
	participant  chat.ParticipantID
}

// TypingManager owns the expiring typing states.
// Every transition is broadcast under its lock, so a stop can never overtake the start it ends.
type TypingManager struct {
	log     *slog.Logger
	fanout  *Fanout
	timeout time.Duration
	now     func() time.Time
	mu      sync.Mutex
	states  map[typingKey]chat.TypingState
}

func NewTypingManager(log *slog.Logger, fanout *Fanout, timeout time.Duration) *TypingManager {
	return &TypingManager{
		log:     log,
		fanout:  fanout,
		timeout: timeout,
		now:     time.Now,
		states:  make(map[typingKey]chat.TypingState),
	}
}

// Start creates or refreshes a typing state. Only the not-typing to typing
// transition is broadcast to the other participants.
func (m *TypingManager) Start(ctx context.Context, conv chat.Conversation, participantID chat.ParticipantID, connectionID chat.ConnectionID) bool {
	key := typingKey{conversation: conv.ID, participant: participantID}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[key]; ok {
		st.ExpiresAt = now.Add(m.timeout)
		st.ConnectionID = connectionID
		m.states[key] = st
		return false
	}
	st := chat.TypingState{
		ConversationID: conv.ID,
		ParticipantID:  participantID,
		ConnectionID:   connectionID,
		Audience:       conv.Others(participantID),
		StartedAt:      now,
		ExpiresAt:      now.Add(m.timeout),
	}
	m.states[key] = st
	m.fanout.Deliver(ctx, st.Audience, event.UserTyping{ConversationID: conv.ID, ParticipantID: participantID})
	return true
}

// Stop ends a typing state. Without a state it does nothing.
func (m *TypingManager) Stop(ctx context.Context, conversationID chat.ConversationID, participantID chat.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[typingKey{conversation: conversationID, participant: participantID}]
	if !ok {
		return false
	}
	m.remove(ctx, st)
	return true
}

// StopConnection ends every state started from a connection that went away.
func (m *TypingManager) StopConnection(ctx context.Context, connectionID chat.ConnectionID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	stopped := 0
	for _, st := range m.states {
		if st.ConnectionID == connectionID {
			m.remove(ctx, st)
			stopped++
		}
	}
	return stopped
}

// Expire ends every state whose window elapsed.
func (m *TypingManager) Expire(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := 0
	for _, st := range m.states {
		if !now.Before(st.ExpiresAt) {
			m.remove(ctx, st)
			expired++
		}
	}
	if expired > 0 {
		m.log.Debug("Typing states expired", "count", expired)
	}
	return expired
}

// IsTyping reports whether a live state exists.
func (m *TypingManager) IsTyping(conversationID chat.ConversationID, participantID chat.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[typingKey{conversation: conversationID, participant: participantID}]
	return ok
}

// remove must be called with mu held.
func (m *TypingManager) remove(ctx context.Context, st chat.TypingState) {
	delete(m.states, typingKey{conversation: st.ConversationID, participant: st.ParticipantID})
	m.fanout.Deliver(ctx, st.Audience, event.UserStoppedTyping{ConversationID: st.ConversationID, ParticipantID: st.ParticipantID})
}
