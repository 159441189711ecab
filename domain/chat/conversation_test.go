package chat

import (
	"chat-connect/errors"
	"strings"
	"testing"
	"time"

	goerrors "errors"

	"github.com/stretchr/testify/require"
)

func TestNewDirectConversation_SortsParticipants(t *testing.T) {
	req := require.New(t)
	now := time.Now()

	conv := NewDirectConversation("c1", "bob", "alice", now)

	req.Equal([]ParticipantID{"alice", "bob"}, conv.Participants)
	req.Equal("5:alice|bob", conv.DirectKey())
	req.Equal(DirectKey("bob", "alice"), conv.DirectKey())
	req.True(conv.HasParticipant("bob"))
	req.False(conv.HasParticipant("carol"))
	req.Equal([]ParticipantID{"bob"}, conv.Others("alice"))
}

func TestDirectKey_DistinguishesPairsWithSeparators(t *testing.T) {
	req := require.New(t)

	// Given two pairs that concatenate to the same text
	first := DirectKey("a:b", "c")
	second := DirectKey("a", "b:c")

	// Then their keys differ, whatever the argument order
	req.NotEqual(first, second)
	req.Equal(first, DirectKey("c", "a:b"))
	req.Equal(second, DirectKey("b:c", "a"))
	req.NotEqual(DirectKey("a|b", "c"), DirectKey("a", "b|c"))
}

func TestConversation_WithMessage_CountsUnreadForOthers(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	conv := NewGroupConversation("g1", "team", []ParticipantID{"alice", "bob", "carol"}, now)

	// When alice sends two messages
	conv = conv.WithMessage(Message{ID: "m1", Seq: 1, SenderID: "alice", Content: Content{Type: ContentText, Text: "hi"}, CreatedAt: now})
	conv = conv.WithMessage(Message{ID: "m2", Seq: 2, SenderID: "alice", Content: Content{Type: ContentText, Text: "there"}, CreatedAt: now})

	// Then everybody but alice has two unread messages
	req.Equal(0, conv.UnreadFor("alice"))
	req.Equal(2, conv.UnreadFor("bob"))
	req.Equal(2, conv.UnreadFor("carol"))
	req.Equal(int64(2), conv.LastSeq)
	req.Equal(MessageID("m2"), conv.LastMessage.MessageID)
}

func TestConversation_WithMessage_DoesNotMutateOriginal(t *testing.T) {
	req := require.New(t)
	conv := NewDirectConversation("c1", "alice", "bob", time.Now())

	_ = conv.WithMessage(Message{ID: "m1", Seq: 1, SenderID: "alice", CreatedAt: time.Now()})

	req.Equal(0, conv.UnreadFor("bob"))
	req.Nil(conv.LastMessage)
}

func TestConversation_WithRead(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	conv := NewDirectConversation("c1", "alice", "bob", now)
	for i := int64(1); i <= 3; i++ {
		conv = conv.WithMessage(Message{Seq: i, SenderID: "alice", CreatedAt: now})
	}

	// When bob reads the first message only
	partial := conv.WithRead("bob", 1, 1)
	req.Equal(2, partial.UnreadFor("bob"))
	req.Equal(int64(1), partial.ReadSeq["bob"])

	// When bob reads up to the latest message
	full := partial.WithRead("bob", 3, 2)
	req.Equal(0, full.UnreadFor("bob"))
}

func TestConversation_ReadBy_IncludesSenderAndWatermarks(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	conv := NewGroupConversation("g1", "", []ParticipantID{"alice", "bob", "carol"}, now)
	m1 := Message{Seq: 1, SenderID: "alice", CreatedAt: now}
	m2 := Message{Seq: 2, SenderID: "carol", CreatedAt: now}
	conv = conv.WithMessage(m1).WithMessage(m2)

	conv = conv.WithRead("bob", 1, 1)

	req.Equal([]ParticipantID{"alice", "bob"}, conv.ReadBy(m1))
	req.Equal([]ParticipantID{"carol"}, conv.ReadBy(m2))
}

func TestConversation_NextTimestamp_NeverGoesBackwards(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	conv := NewDirectConversation("c1", "alice", "bob", now)
	conv = conv.WithMessage(Message{Seq: 1, SenderID: "alice", CreatedAt: now})

	// Given a clock that jumped backwards
	earlier := now.Add(-time.Second)

	req.Equal(now, conv.NextTimestamp(earlier))
	req.Equal(now.Add(time.Second), conv.NextTimestamp(now.Add(time.Second)))
}

func TestContent_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
		check   func(*require.Assertions, Content)
	}{
		{name: "text defaults type", content: Content{Text: "hello"}, check: func(req *require.Assertions, c Content) {
			req.Equal(ContentText, c.Type)
		}},
		{name: "blank text", content: Content{Type: ContentText, Text: "   "}, wantErr: true},
		{name: "too long", content: Content{Type: ContentText, Text: strings.Repeat("é", 11)}, wantErr: true},
		{name: "file without url", content: Content{Type: ContentFile}, wantErr: true},
		{name: "file with relative url", content: Content{Type: ContentFile, FileURL: "/uploads/a.pdf"}, wantErr: true},
		{name: "file defaults original name", content: Content{Type: ContentFile, FileURL: "https://cdn.example.com/uploads/report.pdf"},
			check: func(req *require.Assertions, c Content) {
				req.Equal("report.pdf", c.OriginalName)
			}},
		{name: "file keeps original name", content: Content{Type: ContentFile, FileURL: "https://cdn.example.com/x/1f3a", OriginalName: "cv.pdf"},
			check: func(req *require.Assertions, c Content) {
				req.Equal("cv.pdf", c.OriginalName)
			}},
		{name: "unknown type", content: Content{Type: "video", Text: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := tt.content.Normalize(10)
			if tt.wantErr {
				req.True(goerrors.Is(err, errors.ErrValidationFailed))
				return
			}
			req.NoError(err)
			if tt.check != nil {
				tt.check(req, got)
			}
		})
	}
}

func TestContent_Preview(t *testing.T) {
	req := require.New(t)

	req.Equal("report.pdf", Content{Type: ContentFile, OriginalName: "report.pdf"}.Preview())
	req.Len([]rune(Content{Type: ContentText, Text: strings.Repeat("a", 200)}.Preview()), 80)
}

func TestSortParticipants_Deduplicates(t *testing.T) {
	require.Equal(t, []ParticipantID{"a", "b"}, SortParticipants([]ParticipantID{"b", "a", "b", ""}))
}
