package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypingManager_OneStopPerTransition(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	aliceConn, aliceSink := h.connect(t, "alice")
	_, bobSink := h.connect(t, "bob")
	conv, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	// When alice starts typing twice
	req.True(h.typing.Start(ctx, conv, "alice", aliceConn.ID))
	req.False(h.typing.Start(ctx, conv, "alice", aliceConn.ID))

	// Then bob sees a single user_typing and alice sees nothing
	req.Len(bobSink.Named(event.TypeUserTyping), 1)
	req.Empty(aliceSink.Named(event.TypeUserTyping))

	// When alice stops twice
	req.True(h.typing.Stop(ctx, conv.ID, "alice"))
	req.False(h.typing.Stop(ctx, conv.ID, "alice"))

	// Then bob sees a single user_stopped_typing
	stops := bobSink.Named(event.TypeUserStoppedTyping)
	req.Len(stops, 1)
	req.Equal(event.UserStoppedTyping{ConversationID: conv.ID, ParticipantID: "alice"}, stops[0])
	req.False(h.typing.IsTyping(conv.ID, "alice"))
}

func TestTypingManager_Expire(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	aliceConn, _ := h.connect(t, "alice")
	_, bobSink := h.connect(t, "bob")
	conv, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h.typing.now = func() time.Time { return now }
	h.typing.Start(ctx, conv, "alice", aliceConn.ID)

	// When less than the timeout elapsed
	now = now.Add(2 * time.Second)
	req.Equal(0, h.typing.Expire(ctx))

	// When the timeout elapsed
	now = now.Add(time.Second)
	req.Equal(1, h.typing.Expire(ctx))

	// Then the stop is broadcast once
	req.Len(bobSink.Named(event.TypeUserStoppedTyping), 1)
	req.Equal(0, h.typing.Expire(ctx))
	req.False(h.typing.Stop(ctx, conv.ID, "alice"))
}

func TestTypingManager_RefreshExtendsWindow(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv := chat.NewDirectConversation("c1", "alice", "bob", time.Now())

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h.typing.now = func() time.Time { return now }
	h.typing.Start(ctx, conv, "alice", "conn-1")

	now = now.Add(2 * time.Second)
	h.typing.Start(ctx, conv, "alice", "conn-1")
	now = now.Add(2 * time.Second)

	req.Equal(0, h.typing.Expire(ctx))
	req.True(h.typing.IsTyping(conv.ID, "alice"))
}

func TestTypingManager_StopConnection(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	_, bobSink := h.connect(t, "bob")
	first := chat.NewDirectConversation("c1", "alice", "bob", time.Now())
	second := chat.NewGroupConversation("c2", "", []chat.ParticipantID{"alice", "bob", "carol"}, time.Now())

	h.typing.Start(ctx, first, "alice", "conn-1")
	h.typing.Start(ctx, second, "alice", "conn-1")
	h.typing.Start(ctx, second, "carol", "conn-2")

	// When alice's connection goes away
	stopped := h.typing.StopConnection(ctx, "conn-1")

	// Then only her states end
	req.Equal(2, stopped)
	req.Len(bobSink.Named(event.TypeUserStoppedTyping), 2)
	req.True(h.typing.IsTyping("c2", "carol"))
}
