package event

import (
	"chat-connect/domain/chat"
	"time"

	"github.com/samber/lo"
)

// Outbound event types.
const (
	TypeConversationsList   = "conversations_list"
	TypeMessagesList        = "messages_list"
	TypeNewMessage          = "new_message"
	TypeMessagesRead        = "messages_read"
	TypeUserTyping          = "user_typing"
	TypeUserStoppedTyping   = "user_stopped_typing"
	TypeOnlineUsers         = "online_users"
	TypeUserOnline          = "user_online"
	TypeUserOffline         = "user_offline"
	TypeConversationCreated = "conversation_created"
	TypePong                = "pong"
	TypeError               = "error"
)

// Event is the closed set of payloads pushed to a connection.
type Event interface {
	Name() string
}

// Reply ties an event to the request that caused it on one connection.
type Reply struct {
	RequestID string
	Event     Event
}

func (r Reply) Name() string { return r.Event.Name() }

// Unwrap returns the payload and its request id, if any.
func Unwrap(e Event) (Event, string) {
	if r, ok := e.(Reply); ok {
		return r.Event, r.RequestID
	}
	return e, ""
}

type ParticipantView struct {
	ID          chat.ParticipantID `json:"id"`
	DisplayName string             `json:"displayName"`
	AvatarURL   string             `json:"avatarUrl,omitempty"`
	Online      bool               `json:"online"`
}

type LastMessageView struct {
	MessageID chat.MessageID     `json:"messageId"`
	SenderID  chat.ParticipantID `json:"senderId"`
	Preview   string             `json:"preview"`
	Type      chat.ContentType   `json:"type"`
	At        time.Time          `json:"at"`
}

type ConversationView struct {
	ID           chat.ConversationID   `json:"id"`
	Kind         chat.ConversationKind `json:"kind"`
	Title        string                `json:"title,omitempty"`
	Participants []ParticipantView     `json:"participants"`
	LastMessage  *LastMessageView      `json:"lastMessage,omitempty"`
	UnreadCount  int                   `json:"unreadCount"`
	CreatedAt    time.Time             `json:"createdAt"`
}

type MessageView struct {
	ID             chat.MessageID       `json:"id"`
	ConversationID chat.ConversationID  `json:"conversationId"`
	Seq            int64                `json:"seq"`
	SenderID       chat.ParticipantID   `json:"senderId"`
	Type           chat.ContentType     `json:"type"`
	Message        string               `json:"message,omitempty"`
	FileURL        string               `json:"fileUrl,omitempty"`
	OriginalName   string               `json:"originalName,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	ReadBy         []chat.ParticipantID `json:"readBy"`
}

// NewMessageView renders m as seen inside conv.
func NewMessageView(conv chat.Conversation, m chat.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Type:           m.Content.Type,
		Message:        m.Content.Text,
		FileURL:        m.Content.FileURL,
		OriginalName:   m.Content.OriginalName,
		CreatedAt:      m.CreatedAt,
		ReadBy:         conv.ReadBy(m),
	}
}

// NewConversationView renders conv for viewer. directory may miss entries.
func NewConversationView(conv chat.Conversation, viewer chat.ParticipantID,
	directory map[chat.ParticipantID]chat.Participant, online func(chat.ParticipantID) bool) ConversationView {
	view := ConversationView{
		ID:          conv.ID,
		Kind:        conv.Kind,
		Title:       conv.Title,
		UnreadCount: conv.UnreadFor(viewer),
		CreatedAt:   conv.CreatedAt,
		Participants: lo.Map(conv.Participants, func(id chat.ParticipantID, _ int) ParticipantView {
			p, ok := directory[id]
			if !ok {
				p = chat.Participant{ID: id, DisplayName: string(id)}
			}
			return ParticipantView{ID: id, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, Online: online(id)}
		}),
	}
	if conv.LastMessage != nil {
		view.LastMessage = &LastMessageView{
			MessageID: conv.LastMessage.MessageID,
			SenderID:  conv.LastMessage.SenderID,
			Preview:   conv.LastMessage.Preview,
			Type:      conv.LastMessage.Type,
			At:        conv.LastMessage.At,
		}
	}
	return view
}

type ConversationsList struct {
	Conversations []ConversationView `json:"conversations"`
}

func (ConversationsList) Name() string { return TypeConversationsList }

type MessagesList struct {
	ConversationID chat.ConversationID `json:"conversationId"`
	Messages       []MessageView       `json:"messages"`
	HasMore        bool                `json:"hasMore"`
}

func (MessagesList) Name() string { return TypeMessagesList }

// NewMessage carries the participants so a recipient can render a conversation it has not listed yet.
type NewMessage struct {
	Message      MessageView           `json:"message"`
	Kind         chat.ConversationKind `json:"kind"`
	Participants []chat.ParticipantID  `json:"participants"`
}

func (NewMessage) Name() string { return TypeNewMessage }

type MessagesRead struct {
	ConversationID chat.ConversationID `json:"conversationId"`
	ReaderID       chat.ParticipantID  `json:"readerId"`
	MessageID      chat.MessageID      `json:"messageId"`
	Seq            int64               `json:"seq"`
	ReadAt         time.Time           `json:"readAt"`
}

func (MessagesRead) Name() string { return TypeMessagesRead }

type UserTyping struct {
	ConversationID chat.ConversationID `json:"conversationId"`
	ParticipantID  chat.ParticipantID  `json:"participantId"`
}

func (UserTyping) Name() string { return TypeUserTyping }

type UserStoppedTyping struct {
	ConversationID chat.ConversationID `json:"conversationId"`
	ParticipantID  chat.ParticipantID  `json:"participantId"`
}

func (UserStoppedTyping) Name() string { return TypeUserStoppedTyping }

type OnlineUsers struct {
	ParticipantIDs []chat.ParticipantID `json:"participantIds"`
}

func (OnlineUsers) Name() string { return TypeOnlineUsers }

type UserOnline struct {
	ParticipantID chat.ParticipantID `json:"participantId"`
}

func (UserOnline) Name() string { return TypeUserOnline }

type UserOffline struct {
	ParticipantID chat.ParticipantID `json:"participantId"`
	LastSeen      time.Time          `json:"lastSeen"`
}

func (UserOffline) Name() string { return TypeUserOffline }

type ConversationCreated struct {
	Conversation ConversationView `json:"conversation"`
}

func (ConversationCreated) Name() string { return TypeConversationCreated }

type Pong struct {
	At time.Time `json:"at"`
}

func (Pong) Name() string { return TypePong }

type Error struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func (Error) Name() string { return TypeError }
