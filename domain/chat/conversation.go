package chat

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

type ConversationID string

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation holds its participants, the read watermark of each of them
// and their unread counters. It is never hard-deleted.
type Conversation struct {
	ID           ConversationID
	Kind         ConversationKind
	Title        string
	Participants []ParticipantID
	CreatedAt    time.Time
	LastMessage  *MessageSummary
	LastSeq      int64
	Unread       map[ParticipantID]int
	ReadSeq      map[ParticipantID]int64
}

func NewDirectConversation(id ConversationID, a, b ParticipantID, now time.Time) Conversation {
	return newConversation(id, KindDirect, "", []ParticipantID{a, b}, now)
}

func NewGroupConversation(id ConversationID, title string, participants []ParticipantID, now time.Time) Conversation {
	return newConversation(id, KindGroup, title, participants, now)
}

func newConversation(id ConversationID, kind ConversationKind, title string, participants []ParticipantID, now time.Time) Conversation {
	participants = SortParticipants(participants)
	return Conversation{
		ID:           id,
		Kind:         kind,
		Title:        title,
		Participants: participants,
		CreatedAt:    now,
		Unread:       lo.SliceToMap(participants, func(p ParticipantID) (ParticipantID, int) { return p, 0 }),
		ReadSeq:      lo.SliceToMap(participants, func(p ParticipantID) (ParticipantID, int64) { return p, 0 }),
	}
}

// DirectKey is empty for group conversations.
func (c Conversation) DirectKey() string {
	if c.Kind != KindDirect || len(c.Participants) != 2 {
		return ""
	}
	return DirectKey(c.Participants[0], c.Participants[1])
}

func (c Conversation) HasParticipant(id ParticipantID) bool {
	return slices.Contains(c.Participants, id)
}

// Others returns every participant except id.
func (c Conversation) Others(id ParticipantID) []ParticipantID {
	return lo.Filter(c.Participants, func(p ParticipantID, _ int) bool { return p != id })
}

func (c Conversation) UnreadFor(id ParticipantID) int {
	return c.Unread[id]
}

// LastActivity orders conversation listings.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.At
	}
	return c.CreatedAt
}

// ReadBy is derived from the watermarks, so it only grows.
func (c Conversation) ReadBy(m Message) []ParticipantID {
	return lo.Filter(c.Participants, func(p ParticipantID, _ int) bool {
		return p == m.SenderID || c.ReadSeq[p] >= m.Seq
	})
}

// NextTimestamp keeps creation times non-decreasing inside the conversation.
func (c Conversation) NextTimestamp(now time.Time) time.Time {
	if c.LastMessage != nil && now.Before(c.LastMessage.At) {
		return c.LastMessage.At
	}
	return now
}

// WithMessage returns the conversation after m was appended.
func (c Conversation) WithMessage(m Message) Conversation {
	next := c.Clone()
	next.LastSeq = m.Seq
	next.LastMessage = lo.ToPtr(m.Summary())
	for _, p := range next.Participants {
		if p != m.SenderID {
			next.Unread[p]++
		}
	}
	return next
}

// WithRead moves the watermark of reader to seq. newlyRead is the number of
// messages from other senders that the move covered.
func (c Conversation) WithRead(reader ParticipantID, seq int64, newlyRead int) Conversation {
	next := c.Clone()
	next.ReadSeq[reader] = seq
	unread := next.Unread[reader] - newlyRead
	if unread < 0 || seq >= next.LastSeq {
		unread = 0
	}
	next.Unread[reader] = unread
	return next
}

func (c Conversation) Clone() Conversation {
	next := c
	next.Participants = slices.Clone(c.Participants)
	next.Unread = make(map[ParticipantID]int, len(c.Unread))
	for k, v := range c.Unread {
		next.Unread[k] = v
	}
	next.ReadSeq = make(map[ParticipantID]int64, len(c.ReadSeq))
	for k, v := range c.ReadSeq {
		next.ReadSeq[k] = v
	}
	if c.LastMessage != nil {
		next.LastMessage = lo.ToPtr(*c.LastMessage)
	}
	return next
}
