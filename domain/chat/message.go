package chat

import (
	"chat-connect/errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type MessageID string

type ContentType string

const (
	ContentText ContentType = "text"
	ContentFile ContentType = "file"
)

const previewLength = 80

// Content is either a text body or a reference to an already uploaded file.
// The core relays it verbatim.
type Content struct {
	Type         ContentType
	Text         string
	FileURL      string
	OriginalName string
}

// Normalize fills defaults and checks the content against maxLength runes.
func (c Content) Normalize(maxLength int) (Content, error) {
	if c.Type == "" {
		c.Type = ContentText
	}
	if maxLength > 0 && utf8.RuneCountInString(c.Text) > maxLength {
		return Content{}, fmt.Errorf("%w: message exceeds %d characters", errors.ErrValidationFailed, maxLength)
	}
	switch c.Type {
	case ContentText:
		if strings.TrimSpace(c.Text) == "" {
			return Content{}, fmt.Errorf("%w: message is empty", errors.ErrValidationFailed)
		}
		c.FileURL, c.OriginalName = "", ""
	case ContentFile:
		if err := validate.Var(c.FileURL, "required,http_url"); err != nil {
			return Content{}, fmt.Errorf("%w: fileUrl must be an absolute http(s) url", errors.ErrValidationFailed)
		}
		if c.OriginalName == "" {
			c.OriginalName = baseName(c.FileURL)
		}
	default:
		return Content{}, fmt.Errorf("%w: unknown content type %q", errors.ErrValidationFailed, c.Type)
	}
	return c, nil
}

func baseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return u.Host
	}
	return name
}

// Preview is the short text shown in conversation summaries.
func (c Content) Preview() string {
	text := c.Text
	if c.Type == ContentFile && strings.TrimSpace(text) == "" {
		text = c.OriginalName
	}
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength])
}

// Message is immutable once appended. Seq is 1-based and gapless per conversation.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Seq            int64
	SenderID       ParticipantID
	Content        Content
	CreatedAt      time.Time
}

// MessageSummary is the last message as stored on its conversation.
type MessageSummary struct {
	MessageID MessageID
	SenderID  ParticipantID
	Preview   string
	Type      ContentType
	At        time.Time
}

func (m Message) Summary() MessageSummary {
	return MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Preview:   m.Content.Preview(),
		Type:      m.Content.Type,
		At:        m.CreatedAt,
	}
}
