package storage

import (
	"chat-connect/domain/chat"
	"time"

	"github.com/samber/lo"
)

// memberRecord keeps per-participant counters out of document keys,
// participant ids being free-form.
type memberRecord struct {
	ParticipantID string `bson:"participant_id"`
	Unread        int    `bson:"unread"`
	ReadSeq       int64  `bson:"read_seq"`
}

type summaryRecord struct {
	MessageID string    `bson:"message_id"`
	SenderID  string    `bson:"sender_id"`
	Preview   string    `bson:"preview"`
	Type      string    `bson:"type"`
	At        time.Time `bson:"at"`
}

type conversationRecord struct {
	ID           string         `bson:"_id"`
	Kind         string         `bson:"kind"`
	Title        string         `bson:"title,omitempty"`
	DirectKey    string         `bson:"direct_key,omitempty"`
	Participants []string       `bson:"participants"`
	Members      []memberRecord `bson:"members"`
	CreatedAt    time.Time      `bson:"created_at"`
	LastMessage  *summaryRecord `bson:"last_message,omitempty"`
	LastSeq      int64          `bson:"last_seq"`
}

type messageRecord struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Seq            int64     `bson:"seq"`
	SenderID       string    `bson:"sender_id"`
	Type           string    `bson:"type"`
	Text           string    `bson:"text,omitempty"`
	FileURL        string    `bson:"file_url,omitempty"`
	OriginalName   string    `bson:"original_name,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toConversationRecord(c chat.Conversation) conversationRecord {
	r := conversationRecord{
		ID:           string(c.ID),
		Kind:         string(c.Kind),
		Title:        c.Title,
		DirectKey:    c.DirectKey(),
		Participants: lo.Map(c.Participants, func(p chat.ParticipantID, _ int) string { return string(p) }),
		Members: lo.Map(c.Participants, func(p chat.ParticipantID, _ int) memberRecord {
			return memberRecord{ParticipantID: string(p), Unread: c.Unread[p], ReadSeq: c.ReadSeq[p]}
		}),
		CreatedAt: c.CreatedAt,
		LastSeq:   c.LastSeq,
	}
	if s := c.LastMessage; s != nil {
		r.LastMessage = &summaryRecord{
			MessageID: string(s.MessageID),
			SenderID:  string(s.SenderID),
			Preview:   s.Preview,
			Type:      string(s.Type),
			At:        s.At,
		}
	}
	return r
}

func fromConversationRecord(r conversationRecord) chat.Conversation {
	c := chat.Conversation{
		ID:           chat.ConversationID(r.ID),
		Kind:         chat.ConversationKind(r.Kind),
		Title:        r.Title,
		Participants: lo.Map(r.Participants, func(p string, _ int) chat.ParticipantID { return chat.ParticipantID(p) }),
		CreatedAt:    r.CreatedAt.UTC(),
		LastSeq:      r.LastSeq,
		Unread:       make(map[chat.ParticipantID]int, len(r.Members)),
		ReadSeq:      make(map[chat.ParticipantID]int64, len(r.Members)),
	}
	for _, m := range r.Members {
		c.Unread[chat.ParticipantID(m.ParticipantID)] = m.Unread
		c.ReadSeq[chat.ParticipantID(m.ParticipantID)] = m.ReadSeq
	}
	if s := r.LastMessage; s != nil {
		c.LastMessage = &chat.MessageSummary{
			MessageID: chat.MessageID(s.MessageID),
			SenderID:  chat.ParticipantID(s.SenderID),
			Preview:   s.Preview,
			Type:      chat.ContentType(s.Type),
			At:        s.At.UTC(),
		}
	}
	return c
}

func toMessageRecord(m chat.Message) messageRecord {
	return messageRecord{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		Seq:            m.Seq,
		SenderID:       string(m.SenderID),
		Type:           string(m.Content.Type),
		Text:           m.Content.Text,
		FileURL:        m.Content.FileURL,
		OriginalName:   m.Content.OriginalName,
		CreatedAt:      m.CreatedAt,
	}
}

func fromMessageRecord(r messageRecord) chat.Message {
	return chat.Message{
		ID:             chat.MessageID(r.ID),
		ConversationID: chat.ConversationID(r.ConversationID),
		Seq:            r.Seq,
		SenderID:       chat.ParticipantID(r.SenderID),
		Content: chat.Content{
			Type:         chat.ContentType(r.Type),
			Text:         r.Text,
			FileURL:      r.FileURL,
			OriginalName: r.OriginalName,
		},
		CreatedAt: r.CreatedAt.UTC(),
	}
}
