package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus implements Channel and Publisher over redis pub/sub. One receive
// goroutine per subscription; Close unsubscribes and ends it.
type Bus struct {
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewBus(rdb *redis.Client, log *zap.SugaredLogger) *Bus {
	return &Bus{rdb: rdb, log: log}
}

func (b *Bus) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.rdb.Publish(context.Background(), topic, raw).Err()
}

func (b *Bus) Subscribe(topic string, h Handler) (Subscription, error) {
	ps := b.rdb.Subscribe(context.Background(), topic)
	// force the SUBSCRIBE round trip so a bad connection fails here
	if _, err := ps.Receive(context.Background()); err != nil {
		_ = ps.Close()
		return nil, err
	}
	go func() {
		for msg := range ps.Channel() {
			h([]byte(msg.Payload))
		}
	}()
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
