// Package runtime owns the live state of the messaging core: presence,
// conversations, typing and delivery. Transports only talk to the Orchestrator.
package runtime

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"chat-connect/domain/event"
	"chat-connect/errors"
	"chat-connect/observability"
	"chat-connect/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

type Options struct {
	BufferSize          int
	StoreTimeout        time.Duration
	PresenceGrace       time.Duration
	TypingTimeout       time.Duration
	TypingSweepInterval time.Duration
	NotifyTimeout       time.Duration
	StatsInterval       time.Duration
	LimitMessages       *int
	MaxContentLength    int
	NotifyKinds         []string
}

type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	opts       Options
	supervisor contract.ISupervisor
	directory  contract.ParticipantDirectory
	notifier   contract.OfflineNotifier
	offline    chan event.OfflineNotification
	registry   *PresenceRegistry
	store      *Store
	fanout     *Fanout
	typing     *TypingManager
	receipts   *ReceiptTracker
	router     *MessageRouter
	presence   *PresenceBroadcaster
	collector  *observability.Collector
	now        func() time.Time
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor,
	repo contract.ConversationRepository, directory contract.ParticipantDirectory,
	notifier contract.OfflineNotifier, opts Options) *Orchestrator {
	offline := make(chan event.OfflineNotification, opts.BufferSize)
	registry := NewPresenceRegistry(log, opts.PresenceGrace)
	store := NewStore(log, repo, opts.StoreTimeout, opts.LimitMessages)
	fanout := NewFanout(log, registry, offline, event.NewKinds(opts.NotifyKinds...))
	typing := NewTypingManager(log, fanout, opts.TypingTimeout)
	return &Orchestrator{
		log:        log,
		opts:       opts,
		supervisor: supervisor,
		directory:  directory,
		notifier:   notifier,
		offline:    offline,
		registry:   registry,
		store:      store,
		fanout:     fanout,
		typing:     typing,
		receipts:   NewReceiptTracker(log, store, fanout),
		router:     NewMessageRouter(log, store, directory, fanout, typing, opts.MaxContentLength),
		presence:   NewPresenceBroadcaster(log, registry, store, fanout),
		now:        time.Now,
	}
}

// WithCollector enables the periodic stats reporter.
func (o *Orchestrator) WithCollector(c *observability.Collector) *Orchestrator {
	o.collector = c
	return o
}

func (o *Orchestrator) Registry() *PresenceRegistry { return o.registry }

func (o *Orchestrator) Store() *Store { return o.store }

// Start registers the background workers and runs the supervisor until ctx ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.supervisor.Add(
		workers.NewPresenceFanoutWorker(o.log, o.presence),
		workers.NewTypingSweeperWorker(o.log, o.typing, o.opts.TypingSweepInterval),
	)
	if o.notifier != nil {
		o.supervisor.Add(workers.NewOfflineNotifierWorker(o.log, o.offline, o.notifier, o.opts.NotifyTimeout))
	}
	if o.collector != nil && o.opts.StatsInterval > 0 {
		o.supervisor.Add(workers.NewStatsReporterWorker(o.log, o.collector, o.opts.StatsInterval))
	}
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
	return nil
}

// Stop closes every live connection, then stops the workers.
func (o *Orchestrator) Stop() {
	o.registry.Close()
	o.supervisor.Stop()
}

// Connect registers a new connection and sends it the online contacts snapshot.
func (o *Orchestrator) Connect(ctx context.Context, participantID chat.ParticipantID, sink contract.EventSink) (*Connection, error) {
	conn := NewConnection(participantID, sink, o.now())
	online, err := o.registry.Register(conn)
	if err != nil {
		return nil, err
	}
	o.log.Info("Connection opened", "participant_id", participantID, "connection_id", conn.ID, "first", online)

	contacts, err := o.store.Contacts(ctx, participantID)
	if err != nil {
		o.log.Warn("Online snapshot unavailable", "participant_id", participantID, "error", err)
	}
	o.fanout.Send(ctx, conn, event.OnlineUsers{ParticipantIDs: lo.Ternary(contacts == nil,
		[]chat.ParticipantID{}, o.registry.OnlineAmong(contacts))})
	return conn, nil
}

// Disconnect ends the typing states of conn and removes it from the registry.
func (o *Orchestrator) Disconnect(ctx context.Context, conn *Connection) {
	o.typing.StopConnection(context.WithoutCancel(ctx), conn.ID)
	o.registry.Unregister(conn.ID)
	o.log.Info("Connection closed", "participant_id", conn.ParticipantID, "connection_id", conn.ID)
}

// Dispatch executes one intent on behalf of conn. Errors are returned to the
// caller, which turns them into an error event.
func (o *Orchestrator) Dispatch(ctx context.Context, conn *Connection, cmd chat.Command, requestID string) error {
	conn.Touch(o.now())
	pid := conn.ParticipantID
	switch c := cmd.(type) {
	case chat.GetConversations:
		return o.listConversations(ctx, conn, requestID)
	case chat.GetMessages:
		return o.listMessages(ctx, conn, c, requestID)
	case chat.StartConversation:
		_, err := o.router.Send(ctx, SendRequest{
			RecipientID: c.RecipientID, SenderID: pid, ConnectionID: conn.ID, RequestID: requestID, Content: c.Content(),
		})
		return err
	case chat.SendMessage:
		_, err := o.router.Send(ctx, SendRequest{
			ConversationID: c.ConversationID, SenderID: pid, ConnectionID: conn.ID, RequestID: requestID, Content: c.Content(),
		})
		return err
	case chat.MarkAsRead:
		_, err := o.receipts.MarkRead(ctx, c.ConversationID, pid, c.MessageID)
		return err
	case chat.TypingStart:
		conv, err := o.store.GetForParticipant(ctx, c.ConversationID, pid)
		if err != nil {
			return err
		}
		o.typing.Start(ctx, conv, pid, conn.ID)
		return nil
	case chat.TypingStop:
		if _, err := o.store.GetForParticipant(ctx, c.ConversationID, pid); err != nil {
			return err
		}
		o.typing.Stop(ctx, c.ConversationID, pid)
		return nil
	case chat.CreateGroup:
		return o.createGroup(ctx, conn, c, requestID)
	case chat.Ping:
		o.reply(ctx, conn, requestID, event.Pong{At: o.now().UTC()})
		return nil
	default:
		return fmt.Errorf("%w: unsupported intent %q", errors.ErrValidationFailed, cmd.Intent())
	}
}

func (o *Orchestrator) listConversations(ctx context.Context, conn *Connection, requestID string) error {
	convs, err := o.store.ListForParticipant(ctx, conn.ParticipantID)
	if err != nil {
		return err
	}
	ids := lo.Uniq(lo.FlatMap(convs, func(c chat.Conversation, _ int) []chat.ParticipantID { return c.Participants }))
	directory := o.lookup(ctx, ids)
	views := lo.Map(convs, func(c chat.Conversation, _ int) event.ConversationView {
		return event.NewConversationView(c, conn.ParticipantID, directory, o.registry.IsOnline)
	})
	o.reply(ctx, conn, requestID, event.ConversationsList{Conversations: views})
	return nil
}

func (o *Orchestrator) listMessages(ctx context.Context, conn *Connection, c chat.GetMessages, requestID string) error {
	page, err := o.store.ListMessages(ctx, c.ConversationID, conn.ParticipantID, c.BeforeSeq, c.Limit)
	if err != nil {
		return err
	}
	o.reply(ctx, conn, requestID, event.MessagesList{
		ConversationID: c.ConversationID,
		Messages: lo.Map(page.Messages, func(m chat.Message, _ int) event.MessageView {
			return event.NewMessageView(page.Conversation, m)
		}),
		HasMore: page.HasMore,
	})
	return nil
}

func (o *Orchestrator) createGroup(ctx context.Context, conn *Connection, c chat.CreateGroup, requestID string) error {
	for _, id := range lo.Uniq(c.ParticipantIDs) {
		if id == conn.ParticipantID {
			continue
		}
		exists, err := o.directory.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: directory: %v", errors.ErrInternal, err)
		}
		if !exists {
			return fmt.Errorf("%w: unknown participant %s", errors.ErrValidationFailed, id)
		}
	}
	conv, err := o.store.CreateGroup(ctx, conn.ParticipantID, c.ParticipantIDs, c.Title)
	if err != nil {
		return err
	}
	view := event.NewConversationView(conv, conn.ParticipantID, o.lookup(ctx, conv.Participants), o.registry.IsOnline)
	o.fanout.DeliverReplying(context.WithoutCancel(ctx), conv.Participants, event.ConversationCreated{Conversation: view},
		Reply{ConnectionID: conn.ID, RequestID: requestID})
	return nil
}

// lookup degrades to bare ids when the directory is unavailable.
func (o *Orchestrator) lookup(ctx context.Context, ids []chat.ParticipantID) map[chat.ParticipantID]chat.Participant {
	if len(ids) == 0 {
		return nil
	}
	directory, err := o.directory.Lookup(ctx, ids)
	if err != nil {
		o.log.Warn("Directory lookup failed", "count", len(ids), "error", err)
		return nil
	}
	return directory
}

func (o *Orchestrator) reply(ctx context.Context, conn *Connection, requestID string, e event.Event) {
	if requestID != "" {
		e = event.Reply{RequestID: requestID, Event: e}
	}
	o.fanout.Send(ctx, conn, e)
}
