package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/realtime"
)

const profilesCollection = "user_profiles"

// MessageRepository owns the messages collection. Ids are int64, allocated
// from a counters collection so optimistic client placeholders and remote ids
// share one numeric space.
type MessageRepository struct {
	messages *mongo.Collection
	counters *mongo.Collection
	bus      realtime.Publisher
	log      *zap.SugaredLogger
}

func NewMessageRepository(db *mongo.Database, bus realtime.Publisher, log *zap.SugaredLogger) *MessageRepository {
	coll := db.Collection("messages")
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "is_read", Value: 1}}},
	}
	_, _ = coll.Indexes().CreateMany(context.Background(), idx)
	return &MessageRepository{
		messages: coll,
		counters: db.Collection("counters"),
		bus:      bus,
		log:      log,
	}
}

func (r *MessageRepository) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "messages"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func authorLookup() []bson.M {
	return []bson.M{
		{"$lookup": bson.M{
			"from":         profilesCollection,
			"localField":   "user_id",
			"foreignField": "_id",
			"as":           "author",
		}},
		{"$unwind": bson.M{"path": "$author", "preserveNullAndEmptyArrays": true}},
	}
}

// ListUserMessages returns every message the user sent or received,
// newest-first, with both profile summaries joined.
func (r *MessageRepository) ListUserMessages(ctx context.Context, userID string) ([]model.Message, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"$or": []bson.M{
			{"user_id": userID},
			{"recipient_id": userID},
		}}},
		{"$sort": bson.M{"created_at": -1}},
	}
	pipeline = append(pipeline, authorLookup()...)
	pipeline = append(pipeline,
		bson.M{"$lookup": bson.M{
			"from":         profilesCollection,
			"localField":   "recipient_id",
			"foreignField": "_id",
			"as":           "recipient",
		}},
		bson.M{"$unwind": bson.M{"path": "$recipient", "preserveNullAndEmptyArrays": true}},
	)
	return r.aggregate(ctx, pipeline)
}

// CountUnreadBySender maps sender id to the number of unread messages they
// sent to the user.
func (r *MessageRepository) CountUnreadBySender(ctx context.Context, userID string) (map[string]int, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"recipient_id": userID, "is_read": false}},
		{"$group": bson.M{"_id": "$user_id", "count": bson.M{"$sum": 1}}},
	}
	cur, err := r.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	counts := make(map[string]int)
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.ID] = row.Count
	}
	return counts, cur.Err()
}

// ListThread returns up to limit messages between the pair, oldest-first,
// with the author profile joined.
func (r *MessageRepository) ListThread(ctx context.Context, selfID, otherID string, limit int64) ([]model.Message, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"$or": []bson.M{
			{"user_id": selfID, "recipient_id": otherID},
			{"user_id": otherID, "recipient_id": selfID},
		}}},
		{"$sort": bson.M{"created_at": 1}},
		{"$limit": limit},
	}
	pipeline = append(pipeline, authorLookup()...)
	return r.aggregate(ctx, pipeline)
}

// GetMessage fetches one row by id with the author profile joined.
func (r *MessageRepository) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	pipeline := append([]bson.M{{"$match": bson.M{"_id": id}}}, authorLookup()...)
	msgs, err := r.aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

// InsertMessage persists a new message with a server-assigned id and
// timestamp, then publishes the row to the pair and inbox feeds.
func (r *MessageRepository) InsertMessage(ctx context.Context, authorID, recipientID, content string) (*model.Message, error) {
	id, err := r.nextID(ctx)
	if err != nil {
		return nil, err
	}
	msg := model.Message{
		ID:          id,
		Content:     content,
		UserID:      authorID,
		RecipientID: &recipientID,
		IsRead:      false,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := r.messages.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	if err := r.bus.Publish(realtime.PairTopic(authorID, recipientID), msg); err != nil {
		r.log.Warnw("publish message insert", "topic", "pair", "err", err)
	}
	if err := r.bus.Publish(realtime.InboxTopic(recipientID), msg); err != nil {
		r.log.Warnw("publish message insert", "topic", "inbox", "err", err)
	}
	return &msg, nil
}

// MarkConversationRead flips is_read on every unread message from senderID
// addressed to recipientID. Repeating the call is a no-op.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, recipientID, senderID string) error {
	_, err := r.messages.UpdateMany(ctx,
		bson.M{"recipient_id": recipientID, "user_id": senderID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	return err
}

func (r *MessageRepository) aggregate(ctx context.Context, pipeline []bson.M) ([]model.Message, error) {
	cur, err := r.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
