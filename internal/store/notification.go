package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/realtime"
)

// NotificationBackend is the repository surface the notification feed needs.
type NotificationBackend interface {
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	InsertNotification(ctx context.Context, n *model.Notification) error
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
}

// NotificationStore maintains one user's notification feed, newest-first,
// live-updated by a subscription filtered to that user. Read-state mutations
// are optimistic and are not rolled back on remote failure; the drift is
// accepted until the next refresh.
type NotificationStore struct {
	self string
	repo NotificationBackend
	ch   realtime.Channel
	log  *zap.SugaredLogger

	mu     sync.Mutex
	items  []model.Notification
	unread int
	sub    realtime.Subscription

	changes notifier
}

func NewNotificationStore(self string, repo NotificationBackend, ch realtime.Channel, log *zap.SugaredLogger) *NotificationStore {
	return &NotificationStore{self: self, repo: repo, ch: ch, log: log}
}

// Start performs the initial fetch and opens the user-scoped subscription.
func (s *NotificationStore) Start(ctx context.Context) error {
	s.Refresh(ctx)
	if s.ch == nil {
		return nil
	}
	sub, err := s.ch.Subscribe(realtime.NotificationTopic(s.self), s.handleInsert)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Refresh reloads the feed and recomputes the unread counter.
func (s *NotificationStore) Refresh(ctx context.Context) {
	if s.self == "" {
		return
	}
	items, err := s.repo.ListNotifications(ctx, s.self)
	if err != nil {
		s.log.Errorw("list notifications", "user", s.self, "err", err)
		items = nil
	}
	unread := 0
	for i := range items {
		if !items[i].Read {
			unread++
		}
	}
	s.mu.Lock()
	s.items = items
	s.unread = unread
	s.mu.Unlock()
	s.changes.fire()
}

// MarkAsRead flips one entry locally and issues the remote update. A remote
// failure is logged, never rolled back.
func (s *NotificationStore) MarkAsRead(ctx context.Context, id string) {
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id && !s.items[i].Read {
			s.items[i].Read = true
			if s.unread > 0 {
				s.unread--
			}
			break
		}
	}
	s.mu.Unlock()
	s.changes.fire()
	if err := s.repo.MarkNotificationRead(ctx, s.self, id); err != nil {
		s.log.Warnw("mark notification read", "id", id, "err", err)
	}
}

// MarkAllAsRead flips every entry locally and issues the remote bulk update.
// Idempotent; same no-rollback policy as MarkAsRead.
func (s *NotificationStore) MarkAllAsRead(ctx context.Context) {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()
	s.changes.fire()
	if err := s.repo.MarkAllNotificationsRead(ctx, s.self); err != nil {
		s.log.Warnw("mark all notifications read", "user", s.self, "err", err)
	}
}

// Create is a fire-and-forget insert used by publishing flows to notify
// other users. The creator's own feed is untouched.
func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) {
	if err := s.repo.InsertNotification(ctx, n); err != nil {
		s.log.Warnw("create notification", "user", n.UserID, "err", err)
	}
}

// Notifications returns a snapshot of the feed, newest-first.
func (s *NotificationStore) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Unread returns the current unread counter.
func (s *NotificationStore) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// OnChange registers a callback fired after every state change.
func (s *NotificationStore) OnChange(fn func()) (cancel func()) {
	return s.changes.add(fn)
}

func (s *NotificationStore) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.items = nil
	s.unread = 0
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// handleInsert prepends a server-originated row. No dedup: notification
// inserts are never synthesized locally, so an echo cannot collide.
func (s *NotificationStore) handleInsert(payload []byte) {
	var n model.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		s.log.Warnw("decode notification event", "err", err)
		return
	}
	s.mu.Lock()
	s.items = append([]model.Notification{n}, s.items...)
	s.unread++
	s.mu.Unlock()
	s.changes.fire()
}
