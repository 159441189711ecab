package storage

import (
	"chat-connect/domain/chat"
	"chat-connect/errors"
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	conversationCollection = "conversations"
	messageCollection      = "messages"
)

// NewMongoDB creates a new MongoDB client and connects to the database.
func NewMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	// Ping the primary to verify the connection.
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client.Database(database), nil
}

// MongoRepository stores conversations and messages in two collections.
// The pair uniqueness of direct conversations relies on a unique partial index on direct_key.
type MongoRepository struct {
	db  *mongo.Database
	log *slog.Logger
}

func NewMongoRepository(db *mongo.Database, log *slog.Logger) *MongoRepository {
	return &MongoRepository{db: db, log: log}
}

// EnsureIndexes creates the indexes the repository relies on. It is idempotent.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(conversationCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}}},
		{
			Keys: bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"direct_key": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}
	_, err = r.db.Collection(messageCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

// CreateDirect upserts on direct_key so only the first candidate of a pair is inserted.
func (r *MongoRepository) CreateDirect(ctx context.Context, conv chat.Conversation) (chat.Conversation, bool, error) {
	key := conv.DirectKey()
	if key == "" {
		return chat.Conversation{}, false, fmt.Errorf("%w: not a direct conversation", errors.ErrValidationFailed)
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var record conversationRecord
	err := r.db.Collection(conversationCollection).FindOneAndUpdate(ctx,
		bson.M{"direct_key": key},
		bson.M{"$setOnInsert": toConversationRecord(conv)},
		opts,
	).Decode(&record)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced on the unique index, the other one won.
		err = r.db.Collection(conversationCollection).FindOne(ctx, bson.M{"direct_key": key}).Decode(&record)
	}
	if err != nil {
		return chat.Conversation{}, false, err
	}
	stored := fromConversationRecord(record)
	return stored, stored.ID == conv.ID, nil
}

func (r *MongoRepository) CreateConversation(ctx context.Context, conv chat.Conversation) error {
	_, err := r.db.Collection(conversationCollection).InsertOne(ctx, toConversationRecord(conv))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: conversation %s already exists", errors.ErrValidationFailed, conv.ID)
	}
	return err
}

func (r *MongoRepository) GetConversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error) {
	var record conversationRecord
	err := r.db.Collection(conversationCollection).FindOne(ctx, bson.M{"_id": string(id)}).Decode(&record)
	if goerrors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, id)
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	return fromConversationRecord(record), nil
}

func (r *MongoRepository) SaveConversation(ctx context.Context, conv chat.Conversation) error {
	res, err := r.db.Collection(conversationCollection).ReplaceOne(ctx, bson.M{"_id": string(conv.ID)}, toConversationRecord(conv))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", errors.ErrConversationNotFound, conv.ID)
	}
	return nil
}

func (r *MongoRepository) ListConversationIDs(ctx context.Context, participantID chat.ParticipantID) ([]chat.ConversationID, error) {
	cursor, err := r.db.Collection(conversationCollection).Find(ctx,
		bson.M{"participants": string(participantID)},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]chat.ConversationID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, chat.ConversationID(row.ID))
	}
	return ids, nil
}

// AppendMessage inserts the message first: the unique (conversation_id, seq)
// index rejects a taken sequence before the conversation is touched.
func (r *MongoRepository) AppendMessage(ctx context.Context, conv chat.Conversation, msg chat.Message) error {
	if _, err := r.db.Collection(messageCollection).InsertOne(ctx, toMessageRecord(msg)); err != nil {
		return fmt.Errorf("failed to insert message %d of %s: %w", msg.Seq, conv.ID, err)
	}
	return r.SaveConversation(ctx, conv)
}

func (r *MongoRepository) GetMessage(ctx context.Context, conversationID chat.ConversationID, id chat.MessageID) (chat.Message, error) {
	var record messageRecord
	err := r.db.Collection(messageCollection).
		FindOne(ctx, bson.M{"_id": string(id), "conversation_id": string(conversationID)}).
		Decode(&record)
	if goerrors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
	}
	if err != nil {
		return chat.Message{}, err
	}
	return fromMessageRecord(record), nil
}

func (r *MongoRepository) ListMessagesBefore(ctx context.Context, conversationID chat.ConversationID, beforeSeq int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	filter := bson.M{"conversation_id": string(conversationID)}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}
	msgs, err := r.findMessages(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (r *MongoRepository) ListMessagesRange(ctx context.Context, conversationID chat.ConversationID, fromSeq, toSeq int64) ([]chat.Message, error) {
	if toSeq < fromSeq {
		return nil, nil
	}
	return r.findMessages(ctx,
		bson.M{"conversation_id": string(conversationID), "seq": bson.M{"$gte": fromSeq, "$lte": toSeq}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
}

func (r *MongoRepository) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]chat.Message, error) {
	cursor, err := r.db.Collection(messageCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []messageRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(records))
	for _, record := range records {
		msgs = append(msgs, fromMessageRecord(record))
	}
	return msgs, nil
}
