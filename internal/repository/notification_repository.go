package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/realtime"
)

type NotificationRepository struct {
	col *mongo.Collection
	bus realtime.Publisher
	log *zap.SugaredLogger
}

func NewNotificationRepository(db *mongo.Database, bus realtime.Publisher, log *zap.SugaredLogger) *NotificationRepository {
	col := db.Collection("notifications")
	idx := mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}}
	_, _ = col.Indexes().CreateOne(context.Background(), idx)
	return &NotificationRepository{col: col, bus: bus, log: log}
}

// ListNotifications returns the user's feed, newest-first.
func (r *NotificationRepository) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertNotification assigns the id and timestamp, persists the row and
// publishes it to the target user's feed.
func (r *NotificationRepository) InsertNotification(ctx context.Context, n *model.Notification) error {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	if _, err := r.col.InsertOne(ctx, n); err != nil {
		return err
	}
	if err := r.bus.Publish(realtime.NotificationTopic(n.UserID), n); err != nil {
		r.log.Warnw("publish notification insert", "user", n.UserID, "err", err)
	}
	return nil
}

// MarkNotificationRead flips the read flag on one row. The filter includes
// the owner so nobody can mutate another user's notification.
func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, userID, id string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}

func (r *NotificationRepository) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := r.col.UpdateMany(ctx,
		bson.M{"user_id": userID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}
