// Package realtime carries row-insert events from the write path to live
// store subscriptions, in the shape of a named-topic publish/subscribe feed.
package realtime

// Handler receives the inserted row serialized as JSON.
type Handler func(payload []byte)

// Subscription must be closed when the subscriber goes away.
type Subscription interface {
	Close() error
}

// Channel is the subscriber side of the feed.
type Channel interface {
	Subscribe(topic string, h Handler) (Subscription, error)
}

// Publisher is the write-path side of the feed. Repositories publish each
// inserted row after a successful write.
type Publisher interface {
	Publish(topic string, payload any) error
}

// PairTopic names the feed for a direct-message pair. Both sides derive the
// same name regardless of direction.
func PairTopic(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// InboxTopic names the per-recipient feed driving conversation refreshes.
func InboxTopic(userID string) string {
	return "inbox:" + userID
}

// NotificationTopic names the per-user notification feed.
func NotificationTopic(userID string) string {
	return "notif:" + userID
}
