package chat

// Inbound intent types.
const (
	IntentGetConversations  = "get_conversations"
	IntentGetMessages       = "get_messages"
	IntentStartConversation = "start_conversation"
	IntentSendMessage       = "send_message"
	IntentMarkAsRead        = "mark_as_read"
	IntentTypingStart       = "typing_start"
	IntentTypingStop        = "typing_stop"
	IntentCreateGroup       = "create_group"
	IntentPing              = "ping"
)

// Command is the closed set of intents a connection can issue.
type Command interface {
	Intent() string
}

type GetConversations struct{}

func (GetConversations) Intent() string { return IntentGetConversations }

type GetMessages struct {
	ConversationID ConversationID `json:"conversationId" validate:"required,max=128"`
	BeforeSeq      int64          `json:"beforeSeq" validate:"gte=0"`
	Limit          int            `json:"limit" validate:"gte=0,lte=200"`
}

func (GetMessages) Intent() string { return IntentGetMessages }

type StartConversation struct {
	RecipientID  ParticipantID `json:"recipientId" validate:"required,max=128"`
	Message      string        `json:"message"`
	Type         ContentType   `json:"type" validate:"omitempty,oneof=text file"`
	FileURL      string        `json:"fileUrl" validate:"max=2048"`
	OriginalName string        `json:"originalName" validate:"max=255"`
}

func (StartConversation) Intent() string { return IntentStartConversation }

func (c StartConversation) Content() Content {
	return Content{Type: c.Type, Text: c.Message, FileURL: c.FileURL, OriginalName: c.OriginalName}
}

type SendMessage struct {
	ConversationID ConversationID `json:"conversationId" validate:"required,max=128"`
	Message        string         `json:"message"`
	Type           ContentType    `json:"type" validate:"omitempty,oneof=text file"`
	FileURL        string         `json:"fileUrl" validate:"max=2048"`
	OriginalName   string         `json:"originalName" validate:"max=255"`
}

func (SendMessage) Intent() string { return IntentSendMessage }

func (c SendMessage) Content() Content {
	return Content{Type: c.Type, Text: c.Message, FileURL: c.FileURL, OriginalName: c.OriginalName}
}

// MarkAsRead without a message id marks the whole conversation.
type MarkAsRead struct {
	ConversationID ConversationID `json:"conversationId" validate:"required,max=128"`
	MessageID      MessageID      `json:"messageId" validate:"max=128"`
}

func (MarkAsRead) Intent() string { return IntentMarkAsRead }

type TypingStart struct {
	ConversationID ConversationID `json:"conversationId" validate:"required,max=128"`
}

func (TypingStart) Intent() string { return IntentTypingStart }

type TypingStop struct {
	ConversationID ConversationID `json:"conversationId" validate:"required,max=128"`
}

func (TypingStop) Intent() string { return IntentTypingStop }

type CreateGroup struct {
	ParticipantIDs []ParticipantID `json:"participantIds" validate:"required,min=1,max=100,dive,required,max=128"`
	Title          string          `json:"title" validate:"max=120"`
}

func (CreateGroup) Intent() string { return IntentCreateGroup }

type Ping struct{}

func (Ping) Intent() string { return IntentPing }
