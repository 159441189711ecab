package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/errors"
	"chat-connect/mocks"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestStore_GetOrCreateDirect_Concurrent(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// Given 20 concurrent requests for the same pair, in both orders
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := chat.ParticipantID("alice"), chat.ParticipantID("bob")
			if i%2 == 0 {
				a, b = b, a
			}
			conv, isNew, err := h.store.GetOrCreateDirect(context.Background(), a, b)
			if err != nil {
				t.Error(err)
				return
			}
			if isNew {
				created.Add(1)
			}
			ids.Store(conv.ID, struct{}{})
		}(i)
	}
	wg.Wait()

	// Then exactly one conversation exists
	count := 0
	ids.Range(func(_, _ any) bool { count++; return true })
	req.Equal(1, count)
	req.Equal(int32(1), created.Load())

	convs, err := h.store.ListForParticipant(context.Background(), "alice")
	req.NoError(err)
	req.Len(convs, 1)
}

func TestStore_GetOrCreateDirect_IdsWithSeparators(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	// Given a conversation between "a:b" and "c"
	first, created, err := h.store.GetOrCreateDirect(ctx, "a:b", "c")
	req.NoError(err)
	req.True(created)

	// When "a" starts a conversation with "b:c"
	second, created, err := h.store.GetOrCreateDirect(ctx, "a", "b:c")

	// Then it gets its own conversation
	req.NoError(err)
	req.True(created)
	req.NotEqual(first.ID, second.ID)
	req.Equal([]chat.ParticipantID{"a", "b:c"}, second.Participants)

	// And the pair can exchange messages
	msg, err := h.router.Send(ctx, SendRequest{RecipientID: "b:c", SenderID: "a", Content: text("hi")})
	req.NoError(err)
	req.Equal(second.ID, msg.ConversationID)
}

func TestStore_GetOrCreateDirect_RejectsSelf(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	_, _, err := h.store.GetOrCreateDirect(context.Background(), "alice", "alice")
	req.ErrorIs(err, errors.ErrValidationFailed)
}

func TestStore_AppendMessage_SequencesAndDelivers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	// When three messages are appended
	var delivered []int64
	for _, body := range []string{"one", "two", "three"} {
		_, err := h.store.AppendMessage(ctx, conv.ID, "alice", text(body), func(c chat.Conversation, m chat.Message) {
			req.Equal(m.Seq, c.LastSeq)
			delivered = append(delivered, m.Seq)
		})
		req.NoError(err)
	}

	// Then they are numbered 1, 2, 3 and delivered in that order
	req.Equal([]int64{1, 2, 3}, delivered)
	stored, err := h.store.Get(ctx, conv.ID)
	req.NoError(err)
	req.Equal(int64(3), stored.LastSeq)
	req.Equal(3, stored.UnreadFor("bob"))
	req.Equal(0, stored.UnreadFor("alice"))
	req.Equal("three", stored.LastMessage.Preview)
}

func TestStore_AppendMessage_Rejections(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	_, err = h.store.AppendMessage(ctx, conv.ID, "mallory", text("hi"), nil)
	req.ErrorIs(err, errors.ErrParticipantNotInConversation)

	_, err = h.store.AppendMessage(ctx, "unknown", "alice", text("hi"), nil)
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func TestStore_MarkRead_Monotonic(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	// Given three messages from alice
	var msgs []chat.Message
	for _, body := range []string{"one", "two", "three"} {
		m, err := h.store.AppendMessage(ctx, conv.ID, "alice", text(body), nil)
		req.NoError(err)
		msgs = append(msgs, m)
	}

	// When bob reads up to the second one
	result, err := h.store.MarkRead(ctx, conv.ID, "bob", msgs[1].ID)
	req.NoError(err)
	req.True(result.Changed)
	req.Equal([]chat.ParticipantID{"alice"}, result.Senders)
	req.Equal(1, result.Conversation.UnreadFor("bob"))
	req.ElementsMatch([]chat.ParticipantID{"alice", "bob"}, result.Conversation.ReadBy(msgs[0]))

	// Then reading an older message changes nothing
	result, err = h.store.MarkRead(ctx, conv.ID, "bob", msgs[0].ID)
	req.NoError(err)
	req.False(result.Changed)
	req.Equal(int64(2), result.Conversation.ReadSeq["bob"])

	// And an empty message id reads everything
	result, err = h.store.MarkRead(ctx, conv.ID, "bob", "")
	req.NoError(err)
	req.True(result.Changed)
	req.Equal(int64(3), result.UpTo.Seq)
	req.Equal(0, result.Conversation.UnreadFor("bob"))

	// And unknown messages are rejected
	_, err = h.store.MarkRead(ctx, conv.ID, "bob", "nope")
	req.ErrorIs(err, errors.ErrValidationFailed)
	_, err = h.store.MarkRead(ctx, conv.ID, "mallory", "")
	req.ErrorIs(err, errors.ErrParticipantNotInConversation)
}

func TestStore_MarkRead_OwnMessagesOnly(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	_, err = h.store.AppendMessage(ctx, conv.ID, "alice", text("mine"), nil)
	req.NoError(err)

	// When alice marks her own message
	result, err := h.store.MarkRead(ctx, conv.ID, "alice", "")

	// Then the watermark moves but nobody is notified
	req.NoError(err)
	req.True(result.Changed)
	req.Empty(result.Senders)
}

func TestStore_ListForParticipant_OrderedByActivity(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.store.now = tick(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	withBob, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	withCarol, _, err := h.store.GetOrCreateDirect(ctx, "alice", "carol")
	req.NoError(err)
	group, err := h.store.CreateGroup(ctx, "alice", []chat.ParticipantID{"bob", "dave"}, "team")
	req.NoError(err)

	// When the oldest conversation gets a message
	_, err = h.store.AppendMessage(ctx, withBob.ID, "bob", text("ping"), nil)
	req.NoError(err)

	// Then it comes first, the others by creation time
	convs, err := h.store.ListForParticipant(ctx, "alice")
	req.NoError(err)
	req.Len(convs, 3)
	req.Equal(withBob.ID, convs[0].ID)
	req.Equal(group.ID, convs[1].ID)
	req.Equal(withCarol.ID, convs[2].ID)

	contacts, err := h.store.Contacts(ctx, "alice")
	req.NoError(err)
	req.Equal([]chat.ParticipantID{"bob", "carol", "dave"}, contacts)
}

func TestStore_CreateGroup_NeedsTwoParticipants(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	_, err := h.store.CreateGroup(context.Background(), "alice", []chat.ParticipantID{"alice"}, "")
	req.ErrorIs(err, errors.ErrValidationFailed)
}

func TestStore_ListMessages_Pages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.store.GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	for i := 0; i < 5; i++ {
		_, err := h.store.AppendMessage(ctx, conv.ID, "alice", text("m"), nil)
		req.NoError(err)
	}

	page, err := h.store.ListMessages(ctx, conv.ID, "bob", 0, 3)
	req.NoError(err)
	req.True(page.HasMore)
	req.Len(page.Messages, 3)
	req.Equal(int64(3), page.Messages[0].Seq)

	page, err = h.store.ListMessages(ctx, conv.ID, "bob", page.Messages[0].Seq, 3)
	req.NoError(err)
	req.False(page.HasMore)
	req.Len(page.Messages, 2)

	_, err = h.store.ListMessages(ctx, conv.ID, "mallory", 0, 3)
	req.ErrorIs(err, errors.ErrParticipantNotInConversation)
}

func TestStore_ReadTimeout(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockConversationRepository(ctrl)

	// Given a repository slower than the store timeout
	repo.EXPECT().GetConversation(gomock.Any(), chat.ConversationID("slow")).
		DoAndReturn(func(ctx context.Context, _ chat.ConversationID) (chat.Conversation, error) {
			<-ctx.Done()
			return chat.Conversation{}, ctx.Err()
		})
	store := NewStore(slog.Default(), repo, 20*time.Millisecond, nil)

	// When the conversation is read
	_, err := store.Get(context.Background(), "slow")

	// Then the caller gets a timeout
	req.ErrorIs(err, errors.ErrTimeout)
}

func TestStore_WriteTimeout_DeliversLateWrite(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockConversationRepository(ctrl)
	conv := chat.NewDirectConversation("c1", "alice", "bob", time.Now())

	release := make(chan struct{})
	repo.EXPECT().GetConversation(gomock.Any(), conv.ID).Return(conv, nil)
	repo.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, chat.Conversation, chat.Message) error {
			<-release
			return nil
		})
	store := NewStore(slog.Default(), repo, 20*time.Millisecond, nil)

	// When the write outlives the timeout
	var delivered atomic.Int64
	_, err := store.AppendMessage(context.Background(), conv.ID, "alice", text("late"), func(_ chat.Conversation, m chat.Message) {
		delivered.Store(m.Seq)
	})

	// Then the caller gets a timeout and nothing is delivered yet
	req.ErrorIs(err, errors.ErrTimeout)
	req.Zero(delivered.Load())
	close(release)

	// And the late write lands in the cache and is delivered
	req.Eventually(func() bool {
		got, err := store.Get(context.Background(), conv.ID)
		return err == nil && got.LastSeq == 1
	}, time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return delivered.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStore_WriteTimeout_FailedWriteNeverDelivers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockConversationRepository(ctrl)
	conv := chat.NewDirectConversation("c1", "alice", "bob", time.Now())

	release := make(chan struct{})
	repo.EXPECT().GetConversation(gomock.Any(), conv.ID).Return(conv, nil)
	repo.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, chat.Conversation, chat.Message) error {
			<-release
			return context.Canceled
		})
	store := NewStore(slog.Default(), repo, 20*time.Millisecond, nil)

	var delivered atomic.Bool
	_, err := store.AppendMessage(context.Background(), conv.ID, "alice", text("lost"), func(chat.Conversation, chat.Message) {
		delivered.Store(true)
	})
	req.ErrorIs(err, errors.ErrTimeout)
	close(release)

	// When the abandoned write fails, the conversation is unchanged and nothing is delivered
	got, err := store.Get(context.Background(), conv.ID)
	req.NoError(err)
	req.Zero(got.LastSeq)
	req.False(delivered.Load())
}

func TestStore_RepositoryFailure_IsInternal(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockConversationRepository(ctrl)
	repo.EXPECT().ListConversationIDs(gomock.Any(), chat.ParticipantID("alice")).Return(nil, context.Canceled)
	store := NewStore(slog.Default(), repo, time.Second, nil)

	_, err := store.ListForParticipant(context.Background(), "alice")
	req.ErrorIs(err, errors.ErrInternal)
}
