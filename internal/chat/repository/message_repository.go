package repository

import (
	"context"
	"time"

	"chat_stream_service/internal/chat/domain"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository definition message store, every page is returned ascending by id
type MessageRepository interface {
	// FindLatest 最新的 limit 筆訊息
	FindLatest(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error)
	// FindBefore limit messages with id < before, the closest ones
	FindBefore(ctx context.Context, conversationID string, before domain.MessageID, limit int) ([]domain.MessageEntry, error)
	// FindAfter limit messages with id > after, the closest ones
	FindAfter(ctx context.Context, conversationID string, after domain.MessageID, limit int) ([]domain.MessageEntry, error)
	FindByIDs(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error)
	FindByID(ctx context.Context, id domain.MessageID) (*domain.MessageEntry, error)
	// Insert assigns entry.ID
	Insert(ctx context.Context, entry *domain.MessageEntry) error
	UpdateContent(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id domain.MessageID) error
	// AddReaction / RemoveReaction report whether the set changed
	AddReaction(ctx context.Context, id domain.MessageID, r domain.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, id domain.MessageID, r domain.Reaction) (bool, error)
	// MarkRead add profileID to reads of every message in the conversation not sent by it
	MarkRead(ctx context.Context, conversationID, profileID string) error
}

const counterMessageID = "message_id"

type mongoMessageRepository struct {
	coll     *mongo.Collection
	counters *mongo.Collection
}

// NewMongoMessageRepository create a mongo MessageRepository
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{
		coll:     db.Collection("chat_messages"),
		counters: db.Collection("counters"),
	}
}

// EnsureIndexes create the conversation/id index used by every page query
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("chat_messages").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: -1}},
	})
	return err
}

func (r *mongoMessageRepository) find(ctx context.Context, filter bson.M, sort int, limit int) ([]domain.MessageEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: sort}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	entries := []domain.MessageEntry{}
	if err := cur.All(ctx, &entries); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	if sort < 0 {
		reverse(entries)
	}
	return entries, nil
}

func (r *mongoMessageRepository) FindLatest(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error) {
	return r.find(ctx, bson.M{"conversation_id": conversationID}, -1, limit)
}

func (r *mongoMessageRepository) FindBefore(ctx context.Context, conversationID string, before domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	filter := bson.M{"conversation_id": conversationID, "_id": bson.M{"$lt": before}}
	return r.find(ctx, filter, -1, limit)
}

func (r *mongoMessageRepository) FindAfter(ctx context.Context, conversationID string, after domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	filter := bson.M{"conversation_id": conversationID, "_id": bson.M{"$gt": after}}
	return r.find(ctx, filter, 1, limit)
}

func (r *mongoMessageRepository) FindByIDs(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error) {
	if len(ids) == 0 {
		return []domain.MessageEntry{}, nil
	}
	filter := bson.M{"conversation_id": conversationID, "_id": bson.M{"$in": ids}}
	return r.find(ctx, filter, 1, 0)
}

func (r *mongoMessageRepository) FindByID(ctx context.Context, id domain.MessageID) (*domain.MessageEntry, error) {
	var entry domain.MessageEntry
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrMessageNotFound, "id %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find message")
	}
	return &entry, nil
}

// nextID 使用 counters collection 產生遞增 id
func (r *mongoMessageRepository) nextID(ctx context.Context) (domain.MessageID, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": counterMessageID},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, errors.Wrap(err, "next message id")
	}
	return domain.MessageID(counter.Seq), nil
}

func (r *mongoMessageRepository) Insert(ctx context.Context, entry *domain.MessageEntry) error {
	id, err := r.nextID(ctx)
	if err != nil {
		return err
	}
	entry.ID = id
	if _, err := r.coll.InsertOne(ctx, entry); err != nil {
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func (r *mongoMessageRepository) update(ctx context.Context, id domain.MessageID, update bson.M) (*mongo.UpdateResult, error) {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, errors.Wrap(err, "update message")
	}
	if res.MatchedCount == 0 {
		return nil, errors.Wrapf(domain.ErrMessageNotFound, "id %s", id)
	}
	return res, nil
}

func (r *mongoMessageRepository) UpdateContent(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	_, err := r.update(ctx, id, bson.M{"$set": bson.M{"content": content, "edited_at": editedAt}})
	return err
}

func (r *mongoMessageRepository) SoftDelete(ctx context.Context, id domain.MessageID) error {
	_, err := r.update(ctx, id, bson.M{"$set": bson.M{"deleted": true, "content": "", "image_url": ""}})
	return err
}

func (r *mongoMessageRepository) AddReaction(ctx context.Context, id domain.MessageID, reaction domain.Reaction) (bool, error) {
	res, err := r.update(ctx, id, bson.M{"$addToSet": bson.M{"reactions": reaction}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *mongoMessageRepository) RemoveReaction(ctx context.Context, id domain.MessageID, reaction domain.Reaction) (bool, error) {
	res, err := r.update(ctx, id, bson.M{"$pull": bson.M{"reactions": reaction}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *mongoMessageRepository) MarkRead(ctx context.Context, conversationID, profileID string) error {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": profileID},
		"reads":           bson.M{"$ne": profileID},
	}
	_, err := r.coll.UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"reads": profileID}})
	return errors.Wrap(err, "mark read")
}

func reverse(entries []domain.MessageEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
