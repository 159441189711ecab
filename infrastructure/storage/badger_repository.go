package storage

import (
	"chat-connect/domain/chat"
	"chat-connect/errors"
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
)

const maxConflictRetries = 5

// Key layout:
//
//	conv:{id}                 conversation record
//	direct:{len(a):a|b}       id of the direct conversation of a pair
//	member:{participant}:{id} membership index, no value
//	msg:{id}:{seq}            message record, seq zero-padded so keys sort by seq
//	msgid:{id}:{message}      seq of a message
const (
	prefixConversation = "conv:"
	prefixDirect       = "direct:"
	prefixMember       = "member:"
	prefixMessage      = "msg:"
	prefixMessageID    = "msgid:"
)

func conversationKey(id chat.ConversationID) []byte {
	return []byte(prefixConversation + string(id))
}

func directKey(key string) []byte {
	return []byte(prefixDirect + key)
}

func memberPrefix(p chat.ParticipantID) []byte {
	return []byte(prefixMember + string(p) + ":")
}

func memberKey(p chat.ParticipantID, id chat.ConversationID) []byte {
	return append(memberPrefix(p), string(id)...)
}

func messagePrefix(id chat.ConversationID) []byte {
	return []byte(prefixMessage + string(id) + ":")
}

func messageKey(id chat.ConversationID, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixMessage, id, seq))
}

func messageIDKey(id chat.ConversationID, msg chat.MessageID) []byte {
	return []byte(prefixMessageID + string(id) + ":" + string(msg))
}

// BadgerRepository persists conversations in an embedded Badger database.
// Values are BSON documents, the same shape the Mongo repository stores.
type BadgerRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerRepository(db *badger.DB, log *slog.Logger) *BadgerRepository {
	return &BadgerRepository{db: db, log: log}
}

// update retries a transaction that lost a conflict against a concurrent one.
func (r *BadgerRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = r.db.Update(fn)
		if !goerrors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.Debug("Badger transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func (r *BadgerRepository) CreateDirect(ctx context.Context, conv chat.Conversation) (chat.Conversation, bool, error) {
	key := conv.DirectKey()
	if key == "" {
		return chat.Conversation{}, false, fmt.Errorf("%w: not a direct conversation", errors.ErrValidationFailed)
	}
	var (
		stored  chat.Conversation
		created bool
	)
	err := r.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(directKey(key))
		switch {
		case err == nil:
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			stored, err = getConversation(txn, chat.ConversationID(id))
			created = false
			return err
		case goerrors.Is(err, badger.ErrKeyNotFound):
			if err := txn.Set(directKey(key), []byte(conv.ID)); err != nil {
				return err
			}
			stored, created = conv, true
			return putConversation(txn, conv, true)
		default:
			return err
		}
	})
	if err != nil {
		return chat.Conversation{}, false, err
	}
	return stored, created, nil
}

func (r *BadgerRepository) CreateConversation(ctx context.Context, conv chat.Conversation) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(conversationKey(conv.ID))
		if err == nil {
			return fmt.Errorf("%w: conversation %s already exists", errors.ErrValidationFailed, conv.ID)
		}
		if !goerrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putConversation(txn, conv, true)
	})
}

func (r *BadgerRepository) GetConversation(_ context.Context, id chat.ConversationID) (chat.Conversation, error) {
	var conv chat.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conv, err = getConversation(txn, id)
		return err
	})
	return conv, err
}

func (r *BadgerRepository) SaveConversation(ctx context.Context, conv chat.Conversation) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		if _, err := getConversation(txn, conv.ID); err != nil {
			return err
		}
		return putConversation(txn, conv, false)
	})
}

func (r *BadgerRepository) ListConversationIDs(_ context.Context, participantID chat.ParticipantID) ([]chat.ConversationID, error) {
	var ids []chat.ConversationID
	prefix := memberPrefix(participantID)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			// Another participant whose id extends this one with a colon.
			if strings.Contains(rest, ":") {
				continue
			}
			ids = append(ids, chat.ConversationID(rest))
		}
		return nil
	})
	return ids, err
}

// AppendMessage stores the message and the updated conversation in one transaction.
func (r *BadgerRepository) AppendMessage(ctx context.Context, conv chat.Conversation, msg chat.Message) error {
	data, err := bson.Marshal(toMessageRecord(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return r.update(ctx, func(txn *badger.Txn) error {
		if _, err := getConversation(txn, conv.ID); err != nil {
			return err
		}
		_, err := txn.Get(messageKey(conv.ID, msg.Seq))
		if err == nil {
			return fmt.Errorf("sequence %d already taken in %s", msg.Seq, conv.ID)
		}
		if !goerrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(messageKey(conv.ID, msg.Seq), data); err != nil {
			return err
		}
		if err := txn.Set(messageIDKey(conv.ID, msg.ID), []byte(strconv.FormatInt(msg.Seq, 10))); err != nil {
			return err
		}
		return putConversation(txn, conv, false)
	})
}

func (r *BadgerRepository) GetMessage(_ context.Context, conversationID chat.ConversationID, id chat.MessageID) (chat.Message, error) {
	var msg chat.Message
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIDKey(conversationID, id))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		seq, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupted sequence for message %s: %w", id, err)
		}
		msg, err = getMessage(txn, conversationID, seq)
		return err
	})
	return msg, err
}

// ListMessagesBefore returns at most limit messages with a seq below beforeSeq,
// in ascending order. beforeSeq 0 means from the latest message.
func (r *BadgerRepository) ListMessagesBefore(_ context.Context, conversationID chat.ConversationID, beforeSeq int64, limit int) ([]chat.Message, error) {
	if beforeSeq == 1 || limit <= 0 {
		return nil, nil
	}
	prefix := messagePrefix(conversationID)
	seek := append(append([]byte{}, prefix...), 0xFF)
	if beforeSeq > 0 {
		seek = messageKey(conversationID, beforeSeq-1)
	}

	var msgs []chat.Message
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		opts.PrefetchSize = limit
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(msgs) < limit; it.Next() {
			msg, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessagesRange returns the messages with fromSeq <= seq <= toSeq, ascending.
func (r *BadgerRepository) ListMessagesRange(_ context.Context, conversationID chat.ConversationID, fromSeq, toSeq int64) ([]chat.Message, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	if toSeq < fromSeq {
		return nil, nil
	}
	prefix := messagePrefix(conversationID)
	var msgs []chat.Message
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(messageKey(conversationID, fromSeq)); it.ValidForPrefix(prefix); it.Next() {
			msg, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			if msg.Seq > toSeq {
				break
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

// ListConversations scans every conversation, up to limit when positive.
func (r *BadgerRepository) ListConversations(_ context.Context, limit int) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	prefix := []byte(prefixConversation)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(convs) >= limit {
				break
			}
			conv, err := decodeConversation(it.Item())
			if err != nil {
				return err
			}
			convs = append(convs, conv)
		}
		return nil
	})
	return convs, err
}

func getConversation(txn *badger.Txn, id chat.ConversationID) (chat.Conversation, error) {
	item, err := txn.Get(conversationKey(id))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return chat.Conversation{}, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, id)
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	return decodeConversation(item)
}

func decodeConversation(item *badger.Item) (chat.Conversation, error) {
	var record conversationRecord
	err := item.Value(func(v []byte) error {
		return bson.Unmarshal(v, &record)
	})
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return fromConversationRecord(record), nil
}

// putConversation writes conv; withMembers also writes its membership index.
func putConversation(txn *badger.Txn, conv chat.Conversation, withMembers bool) error {
	data, err := bson.Marshal(toConversationRecord(conv))
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := txn.Set(conversationKey(conv.ID), data); err != nil {
		return err
	}
	if !withMembers {
		return nil
	}
	for _, p := range conv.Participants {
		if err := txn.Set(memberKey(p, conv.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func getMessage(txn *badger.Txn, id chat.ConversationID, seq int64) (chat.Message, error) {
	item, err := txn.Get(messageKey(id, seq))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return chat.Message{}, fmt.Errorf("%w: seq %d of %s", errors.ErrMessageNotFound, seq, id)
	}
	if err != nil {
		return chat.Message{}, err
	}
	return decodeMessage(item)
}

func decodeMessage(item *badger.Item) (chat.Message, error) {
	var record messageRecord
	err := item.Value(func(v []byte) error {
		return bson.Unmarshal(v, &record)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return fromMessageRecord(record), nil
}
