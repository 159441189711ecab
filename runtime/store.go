package runtime

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"chat-connect/errors"
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const defaultPageSize = 50

// conversationEntry is the cached state of one conversation.
// mu serializes every mutation of the conversation, including its persistence.
type conversationEntry struct {
	mu   sync.Mutex
	conv chat.Conversation
}

// ReadResult describes the effect of a read mark.
type ReadResult struct {
	Changed      bool
	Conversation chat.Conversation
	UpTo         chat.Message
	Senders      []chat.ParticipantID
	ReadAt       time.Time
}

// MessagePage is a slice of history in ascending order.
type MessagePage struct {
	Conversation chat.Conversation
	Messages     []chat.Message
	HasMore      bool
}

// Store owns conversation state. It caches conversations in process and is the
// only writer of sequence numbers for the conversations it serves.
type Store struct {
	log       *slog.Logger
	repo      contract.ConversationRepository
	timeout   time.Duration
	pageSize  int
	now       func() time.Time
	pairs     KeyLock
	mu        sync.Mutex
	entries   map[chat.ConversationID]*conversationEntry
	directIDs map[string]chat.ConversationID
}

func NewStore(log *slog.Logger, repo contract.ConversationRepository, timeout time.Duration, pageSize *int) *Store {
	size := defaultPageSize
	if pageSize != nil && *pageSize > 0 {
		size = *pageSize
	}
	return &Store{
		log:      log,
		repo:     repo,
		timeout:  timeout,
		pageSize: size,
		// Millisecond precision matches what the repositories keep.
		now:       func() time.Time { return time.Now().Truncate(time.Millisecond) },
		entries:   make(map[chat.ConversationID]*conversationEntry),
		directIDs: make(map[string]chat.ConversationID),
	}
}

// GetOrCreateDirect returns the single direct conversation of the pair, creating it if needed.
func (s *Store) GetOrCreateDirect(ctx context.Context, a, b chat.ParticipantID) (chat.Conversation, bool, error) {
	if a == "" || b == "" || a == b {
		return chat.Conversation{}, false, fmt.Errorf("%w: a direct conversation needs two distinct participants", errors.ErrValidationFailed)
	}
	key := chat.DirectKey(a, b)
	if conv, ok, err := s.cachedDirect(ctx, key); ok || err != nil {
		return conv, false, err
	}

	unlock := s.pairs.Lock(key)
	if conv, ok, err := s.cachedDirect(ctx, key); ok || err != nil {
		unlock()
		return conv, false, err
	}

	candidate := chat.NewDirectConversation(chat.ConversationID(uuid.NewString()), a, b, s.now().UTC())
	var (
		stored  chat.Conversation
		created bool
	)
	err := s.commit(ctx, unlock,
		func(ctx context.Context) error {
			var err error
			stored, created, err = s.repo.CreateDirect(ctx, candidate)
			return err
		},
		func() { s.cache(stored) },
		nil,
	)
	if err != nil {
		return chat.Conversation{}, false, err
	}
	if created {
		s.log.Debug("Direct conversation created", "conversation_id", stored.ID, "participants", stored.Participants)
	}
	return stored.Clone(), created, nil
}

func (s *Store) cachedDirect(ctx context.Context, key string) (chat.Conversation, bool, error) {
	s.mu.Lock()
	id, ok := s.directIDs[key]
	s.mu.Unlock()
	if !ok {
		return chat.Conversation{}, false, nil
	}
	conv, err := s.Get(ctx, id)
	return conv, err == nil, err
}

// CreateGroup creates a group with the creator and at least one other participant.
func (s *Store) CreateGroup(ctx context.Context, creator chat.ParticipantID, participants []chat.ParticipantID, title string) (chat.Conversation, error) {
	members := chat.SortParticipants(append([]chat.ParticipantID{creator}, participants...))
	if len(members) < 2 {
		return chat.Conversation{}, fmt.Errorf("%w: a group needs at least two participants", errors.ErrValidationFailed)
	}
	conv := chat.NewGroupConversation(chat.ConversationID(uuid.NewString()), title, members, s.now().UTC())
	err := s.call(ctx, func(ctx context.Context) error { return s.repo.CreateConversation(ctx, conv) })
	if err != nil {
		return chat.Conversation{}, err
	}
	s.cache(conv)
	return conv.Clone(), nil
}

// Get returns a snapshot of the conversation.
func (s *Store) Get(ctx context.Context, id chat.ConversationID) (chat.Conversation, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return chat.Conversation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone(), nil
}

// GetForParticipant is Get restricted to members.
func (s *Store) GetForParticipant(ctx context.Context, id chat.ConversationID, participantID chat.ParticipantID) (chat.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !conv.HasParticipant(participantID) {
		return chat.Conversation{}, fmt.Errorf("%w: %s", errors.ErrParticipantNotInConversation, id)
	}
	return conv, nil
}

// ListForParticipant orders conversations by last activity, most recent first.
func (s *Store) ListForParticipant(ctx context.Context, participantID chat.ParticipantID) ([]chat.Conversation, error) {
	var ids []chat.ConversationID
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		ids, err = s.repo.ListConversationIDs(ctx, participantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	convs := make([]chat.Conversation, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		conv, err := s.Get(ctx, id)
		if goerrors.Is(err, errors.ErrConversationNotFound) {
			s.log.Warn("Dangling conversation membership", "conversation_id", id, "participant_id", participantID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if conv.HasParticipant(participantID) {
			convs = append(convs, conv)
		}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		ai, aj := convs[i].LastActivity(), convs[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// Contacts are the participants sharing at least one conversation with participantID.
func (s *Store) Contacts(ctx context.Context, participantID chat.ParticipantID) ([]chat.ParticipantID, error) {
	convs, err := s.ListForParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	var contacts []chat.ParticipantID
	for _, c := range convs {
		contacts = append(contacts, c.Others(participantID)...)
	}
	return chat.SortParticipants(contacts), nil
}

// AppendMessage sequences and persists a message. deliver runs under the
// conversation lock once the write landed, so delivery order is sequence order.
// A write that outlives the timeout still lands. The caller gets a timeout and
// deliver runs once the write completes, still under the conversation lock.
func (s *Store) AppendMessage(ctx context.Context, id chat.ConversationID, sender chat.ParticipantID,
	content chat.Content, deliver func(chat.Conversation, chat.Message)) (chat.Message, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return chat.Message{}, err
	}
	e.mu.Lock()
	conv := e.conv
	if !conv.HasParticipant(sender) {
		e.mu.Unlock()
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrParticipantNotInConversation, id)
	}
	msg := chat.Message{
		ID:             chat.MessageID(uuid.NewString()),
		ConversationID: id,
		Seq:            conv.LastSeq + 1,
		SenderID:       sender,
		Content:        content,
		CreatedAt:      conv.NextTimestamp(s.now().UTC()),
	}
	next := conv.WithMessage(msg)
	err = s.commit(ctx, e.mu.Unlock,
		func(ctx context.Context) error { return s.repo.AppendMessage(ctx, next, msg) },
		func() { e.conv = next },
		func() {
			if deliver != nil {
				deliver(next.Clone(), msg)
			}
		},
	)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// MarkRead moves the read watermark of reader forward. An empty upTo means the
// latest message. Marks at or below the current watermark change nothing.
func (s *Store) MarkRead(ctx context.Context, id chat.ConversationID, reader chat.ParticipantID, upTo chat.MessageID) (ReadResult, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return ReadResult{}, err
	}
	e.mu.Lock()
	conv := e.conv
	if !conv.HasParticipant(reader) {
		e.mu.Unlock()
		return ReadResult{}, fmt.Errorf("%w: %s", errors.ErrParticipantNotInConversation, id)
	}
	if conv.LastSeq == 0 {
		e.mu.Unlock()
		return ReadResult{Conversation: conv.Clone()}, nil
	}

	target, err := s.readTarget(ctx, conv, upTo)
	if err != nil {
		e.mu.Unlock()
		return ReadResult{}, err
	}
	previous := conv.ReadSeq[reader]
	if target.Seq <= previous {
		e.mu.Unlock()
		return ReadResult{Conversation: conv.Clone(), UpTo: target}, nil
	}

	var covered []chat.Message
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		covered, err = s.repo.ListMessagesRange(ctx, id, previous+1, target.Seq)
		return err
	})
	if err != nil {
		e.mu.Unlock()
		return ReadResult{}, err
	}
	fromOthers := lo.Filter(covered, func(m chat.Message, _ int) bool { return m.SenderID != reader })
	senders := chat.SortParticipants(lo.Map(fromOthers, func(m chat.Message, _ int) chat.ParticipantID { return m.SenderID }))
	next := conv.WithRead(reader, target.Seq, len(fromOthers))

	err = s.commit(ctx, e.mu.Unlock,
		func(ctx context.Context) error { return s.repo.SaveConversation(ctx, next) },
		func() { e.conv = next },
		nil,
	)
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{
		Changed:      true,
		Conversation: next.Clone(),
		UpTo:         target,
		Senders:      senders,
		ReadAt:       s.now().UTC(),
	}, nil
}

func (s *Store) readTarget(ctx context.Context, conv chat.Conversation, upTo chat.MessageID) (chat.Message, error) {
	if upTo == "" {
		upTo = conv.LastMessage.MessageID
	}
	var msg chat.Message
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		msg, err = s.repo.GetMessage(ctx, conv.ID, upTo)
		return err
	})
	if goerrors.Is(err, errors.ErrMessageNotFound) {
		return chat.Message{}, fmt.Errorf("%w: unknown message %s", errors.ErrValidationFailed, upTo)
	}
	return msg, err
}

// ListMessages pages backwards through history. beforeSeq 0 starts at the latest message.
func (s *Store) ListMessages(ctx context.Context, id chat.ConversationID, participantID chat.ParticipantID,
	beforeSeq int64, limit int) (MessagePage, error) {
	conv, err := s.GetForParticipant(ctx, id, participantID)
	if err != nil {
		return MessagePage{}, err
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	var msgs []chat.Message
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = s.repo.ListMessagesBefore(ctx, id, beforeSeq, limit+1)
		return err
	})
	if err != nil {
		return MessagePage{}, err
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[len(msgs)-limit:]
	}
	return MessagePage{Conversation: conv, Messages: msgs, HasMore: hasMore}, nil
}

// entry loads a conversation into the cache. Unknown ids are never cached.
func (s *Store) entry(ctx context.Context, id chat.ConversationID) (*conversationEntry, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if ok {
		return e, nil
	}
	var conv chat.Conversation
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		conv, err = s.repo.GetConversation(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.cache(conv), nil
}

// cache inserts conv unless a concurrent load got there first.
func (s *Store) cache(conv chat.Conversation) *conversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := conv.DirectKey(); key != "" {
		s.directIDs[key] = conv.ID
	}
	if e, ok := s.entries[conv.ID]; ok {
		return e
	}
	e := &conversationEntry{conv: conv}
	s.entries[conv.ID] = e
	return e
}

// call bounds a repository read by the store timeout.
func (s *Store) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return wrapRepositoryError(err)
	case <-ctx.Done():
		if goerrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: store read", errors.ErrTimeout)
		}
		return ctx.Err()
	}
}

// commit runs a write with the lock released by unlock held for its whole duration.
// apply and landed run whenever the write succeeds, even after the caller got a timeout.
func (s *Store) commit(ctx context.Context, unlock func(), write func(context.Context) error, apply func(), landed func()) error {
	done := make(chan error, 1)
	go func() {
		err := write(context.WithoutCancel(ctx))
		if err == nil {
			apply()
		}
		done <- err
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		defer unlock()
		if err != nil {
			return wrapRepositoryError(err)
		}
		if landed != nil {
			landed()
		}
		return nil
	case <-timer.C:
		s.release(done, unlock, landed)
		return fmt.Errorf("%w: store write", errors.ErrTimeout)
	case <-ctx.Done():
		s.release(done, unlock, landed)
		return ctx.Err()
	}
}

// release waits for an abandoned write before giving the lock back.
func (s *Store) release(done <-chan error, unlock func(), landed func()) {
	go func() {
		defer unlock()
		if err := <-done; err != nil {
			s.log.Error("Abandoned store write failed", "error", err)
			return
		}
		s.log.Warn("Store write completed after its caller gave up")
		if landed != nil {
			landed()
		}
	}()
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{errors.ErrConversationNotFound, errors.ErrMessageNotFound, errors.ErrValidationFailed} {
		if goerrors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", errors.ErrInternal, err)
}
