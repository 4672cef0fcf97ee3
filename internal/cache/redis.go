package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 5 * time.Minute

// Client wraps the redis connection used for presence.
type Client struct {
	Cli *redis.Client
}

// NewRedis opens and pings the connection.
func NewRedis(addr, password string, db int) (*Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{Cli: r}, nil
}

func (c *Client) Close() error {
	return c.Cli.Close()
}

// SetPresence marks a staff member online or offline. Online entries expire
// so a crashed session does not stay green forever.
func (c *Client) SetPresence(ctx context.Context, userID string, online bool) error {
	key := "presence:" + userID
	if !online {
		return c.Cli.Del(ctx, key).Err()
	}
	return c.Cli.Set(ctx, key, "1", presenceTTL).Err()
}

func (c *Client) GetPresence(ctx context.Context, userID string) (bool, error) {
	s, err := c.Cli.Get(ctx, "presence:"+userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s == "1", nil
}
