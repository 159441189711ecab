package runtime

import (
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/errors"
	"chat-connect/mocks"
	"chat-connect/runtime/workers"
	"context"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *mocks.MockParticipantDirectory) {
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockParticipantDirectory(ctrl)
	directory.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(map[chat.ParticipantID]chat.Participant{"bob": {ID: "bob", DisplayName: "Bob"}}, nil).AnyTimes()

	log := logs.GetLoggerFromString("DEBUG")
	o := NewOrchestrator(log, workers.NewSupervisor(log, 0), newTestRepository(t), directory, nil, Options{
		BufferSize:          16,
		StoreTimeout:        2 * time.Second,
		PresenceGrace:       30 * time.Millisecond,
		TypingTimeout:       3 * time.Second,
		TypingSweepInterval: 10 * time.Millisecond,
		MaxContentLength:    1000,
	})
	return o, directory
}

func (o *Orchestrator) connectTest(t *testing.T, p chat.ParticipantID) (*Connection, *RecordingSink) {
	sink := &RecordingSink{}
	conn, err := o.Connect(context.Background(), p, sink)
	require.NoError(t, err)
	return conn, sink
}

func Test_Orchestrator_Connect_SendsOnlineContacts(t *testing.T) {
	req := require.New(t)
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	_, _, err := o.Store().GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	_, _, err = o.Store().GetOrCreateDirect(ctx, "alice", "carol")
	req.NoError(err)
	o.connectTest(t, "bob")

	// When alice connects
	_, sink := o.connectTest(t, "alice")

	// Then her first event lists her online contacts only
	events := sink.Events()
	req.Len(events, 1)
	req.Equal(event.OnlineUsers{ParticipantIDs: []chat.ParticipantID{"bob"}}, events[0])
}

func Test_Orchestrator_Dispatch_Conversations(t *testing.T) {
	req := require.New(t)
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	alice, aliceSink := o.connectTest(t, "alice")
	o.connectTest(t, "bob")

	// Given a message from alice to bob
	req.NoError(o.Dispatch(ctx, alice, chat.StartConversation{RecipientID: "bob", Message: "hi"}, ""))
	aliceSink.Reset()

	// When alice lists her conversations
	req.NoError(o.Dispatch(ctx, alice, chat.GetConversations{}, "req-7"))

	// Then the reply carries the request id and the directory names
	events := aliceSink.Events()
	req.Len(events, 1)
	inner, requestID := event.Unwrap(events[0])
	req.Equal("req-7", requestID)
	list := inner.(event.ConversationsList)
	req.Len(list.Conversations, 1)
	view := list.Conversations[0]
	req.Equal("hi", view.LastMessage.Preview)
	req.Equal(0, view.UnreadCount)
	names := map[chat.ParticipantID]string{}
	for _, p := range view.Participants {
		names[p.ID] = p.DisplayName
		req.True(p.Online)
	}
	req.Equal("Bob", names["bob"])
	req.Equal("alice", names["alice"])
}

func Test_Orchestrator_Dispatch_MessagesAndRead(t *testing.T) {
	req := require.New(t)
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	alice, aliceSink := o.connectTest(t, "alice")
	bob, bobSink := o.connectTest(t, "bob")

	req.NoError(o.Dispatch(ctx, alice, chat.StartConversation{RecipientID: "bob", Message: "one"}, ""))
	conversationID := bobSink.Named(event.TypeNewMessage)[0].(event.NewMessage).Message.ConversationID
	req.NoError(o.Dispatch(ctx, alice, chat.SendMessage{ConversationID: conversationID, Message: "two"}, ""))

	// When bob fetches the history
	req.NoError(o.Dispatch(ctx, bob, chat.GetMessages{ConversationID: conversationID}, "h1"))
	lists := bobSink.Named(event.TypeMessagesList)
	req.Len(lists, 1)
	history := lists[0].(event.MessagesList)
	req.Len(history.Messages, 2)
	req.Equal("one", history.Messages[0].Message)
	req.False(history.HasMore)

	// When bob reads everything
	req.NoError(o.Dispatch(ctx, bob, chat.MarkAsRead{ConversationID: conversationID}, ""))

	// Then alice receives the receipt
	reads := aliceSink.Named(event.TypeMessagesRead)
	req.Len(reads, 1)
	req.Equal(int64(2), reads[0].(event.MessagesRead).Seq)
}

func Test_Orchestrator_Dispatch_Typing(t *testing.T) {
	req := require.New(t)
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	alice, _ := o.connectTest(t, "alice")
	_, bobSink := o.connectTest(t, "bob")
	mallory, _ := o.connectTest(t, "mallory")
	conv, _, err := o.Store().GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	req.NoError(o.Dispatch(ctx, alice, chat.TypingStart{ConversationID: conv.ID}, ""))
	req.NoError(o.Dispatch(ctx, alice, chat.TypingStop{ConversationID: conv.ID}, ""))
	req.Len(bobSink.Named(event.TypeUserTyping), 1)
	req.Len(bobSink.Named(event.TypeUserStoppedTyping), 1)

	err = o.Dispatch(ctx, mallory, chat.TypingStart{ConversationID: conv.ID}, "")
	req.ErrorIs(err, errors.ErrParticipantNotInConversation)
}

func Test_Orchestrator_Dispatch_CreateGroupAndPing(t *testing.T) {
	req := require.New(t)
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()
	alice, aliceSink := o.connectTest(t, "alice")
	_, bobSink := o.connectTest(t, "bob")
	aliceSink.Reset()

	req.NoError(o.Dispatch(ctx, alice, chat.CreateGroup{ParticipantIDs: []chat.ParticipantID{"bob", "carol"}, Title: "team"}, "g1"))

	created := bobSink.Named(event.TypeConversationCreated)
	req.Len(created, 1)
	req.Equal("team", created[0].(event.ConversationCreated).Conversation.Title)
	_, requestID := event.Unwrap(aliceSink.Events()[0])
	req.Equal("g1", requestID)

	req.NoError(o.Dispatch(ctx, alice, chat.Ping{}, "p1"))
	req.Len(aliceSink.Named(event.TypePong), 1)
}

func Test_Orchestrator_PresenceBroadcast(t *testing.T) {
	req := require.New(t)
	o, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, err := o.Store().GetOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	done := make(chan struct{})
	go func() {
		_ = o.Start(ctx)
		close(done)
	}()
	_, bobSink := o.connectTest(t, "bob")

	// When alice connects then leaves
	alice, _ := o.connectTest(t, "alice")
	req.Eventually(func() bool { return len(bobSink.Named(event.TypeUserOnline)) == 1 }, time.Second, 5*time.Millisecond)
	o.Disconnect(ctx, alice)

	// Then bob sees her go offline once the grace period elapsed
	req.Eventually(func() bool { return len(bobSink.Named(event.TypeUserOffline)) == 1 }, time.Second, 5*time.Millisecond)

	o.Stop()
	<-done
	req.Contains(bobSink.closed, chat.CloseNormal)
}
