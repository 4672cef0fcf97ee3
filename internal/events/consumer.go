// Package events consumes content-publication events from the CMS side and
// fans them out as notifications.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/model"
)

// ContentPublishedEvent is emitted when a news article or video goes live.
type ContentPublishedEvent struct {
	Type      string `json:"type"`
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	ActorRole string `json:"actor_role"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link"`
}

// ProfileLister yields the recipient set for fan-out.
type ProfileLister interface {
	ListProfiles(ctx context.Context) ([]model.UserProfile, error)
}

// NotificationCreator persists one notification row.
type NotificationCreator interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
}

type Consumer struct {
	reader   *kafka.Reader
	profiles ProfileLister
	notifs   NotificationCreator
	log      *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, profiles ProfileLister, notifs NotificationCreator, log *zap.SugaredLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, profiles: profiles, notifs: notifs, log: log}
}

// Start blocks reading events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Errorw("kafka read", "err", err)
			time.Sleep(time.Second)
			continue
		}
		var ev ContentPublishedEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warnw("invalid published event", "err", err)
			continue
		}
		c.FanOut(ctx, &ev)
	}
}

// FanOut creates one notification per staff profile, skipping the actor.
// Each insert is fire-and-forget; a failed row is logged and the rest still
// go out.
func (c *Consumer) FanOut(ctx context.Context, ev *ContentPublishedEvent) {
	profiles, err := c.profiles.ListProfiles(ctx)
	if err != nil {
		c.log.Errorw("list profiles for fan-out", "err", err)
		return
	}
	for i := range profiles {
		p := &profiles[i]
		if p.ID == ev.ActorID {
			continue
		}
		n := &model.Notification{
			UserID:  p.ID,
			Type:    ev.Type,
			Title:   ev.Title,
			Message: ev.Message,
		}
		if ev.ActorID != "" {
			n.ActorID = ptr(ev.ActorID)
			n.ActorName = ptr(ev.ActorName)
			n.ActorRole = ptr(ev.ActorRole)
		}
		if ev.Link != "" {
			n.Link = ptr(ev.Link)
		}
		if err := c.notifs.InsertNotification(ctx, n); err != nil {
			c.log.Warnw("insert notification", "user", p.ID, "err", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func ptr(s string) *string { return &s }
