package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/realtime"
)

// ConversationBackend is the slice of the message repository the
// conversation list needs.
type ConversationBackend interface {
	ListUserMessages(ctx context.Context, userID string) ([]model.Message, error)
	CountUnreadBySender(ctx context.Context, userID string) (map[string]int, error)
	MarkConversationRead(ctx context.Context, recipientID, senderID string) error
}

// ConversationStore presents a ranked list of correspondents with a preview
// message and an unread badge for one user. The list is recomputed from
// scratch on every refresh; the only incremental mutation is the optimistic
// unread-count zeroing when a conversation is opened.
type ConversationStore struct {
	self string
	repo ConversationBackend
	ch   realtime.Channel
	log  *zap.SugaredLogger

	mu    sync.RWMutex
	convs []model.Conversation
	sub   realtime.Subscription

	changes notifier
}

func NewConversationStore(self string, repo ConversationBackend, ch realtime.Channel, log *zap.SugaredLogger) *ConversationStore {
	return &ConversationStore{self: self, repo: repo, ch: ch, log: log}
}

// Start performs the initial fetch and opens the inbox subscription so the
// list follows incoming messages.
func (s *ConversationStore) Start(ctx context.Context) error {
	s.Refresh(ctx)
	if s.ch == nil {
		return nil
	}
	sub, err := s.ch.Subscribe(realtime.InboxTopic(s.self), func([]byte) {
		s.Refresh(context.Background())
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Refresh rebuilds the conversation list from the full message history and
// the unread-count query. On any query error the list is left empty.
func (s *ConversationStore) Refresh(ctx context.Context) {
	if s.self == "" {
		return
	}
	msgs, err := s.repo.ListUserMessages(ctx, s.self)
	if err != nil {
		s.log.Errorw("list messages", "user", s.self, "err", err)
		s.setConversations(nil)
		return
	}
	counts, err := s.repo.CountUnreadBySender(ctx, s.self)
	if err != nil {
		s.log.Errorw("count unread", "user", s.self, "err", err)
		s.setConversations(nil)
		return
	}
	s.setConversations(reduceConversations(s.self, msgs, counts))
}

// MarkRead zeroes the unread badge locally and flips the remote rows.
// The remote call is fire-and-forget.
func (s *ConversationStore) MarkRead(ctx context.Context, otherID string) {
	if s.self == "" || otherID == "" {
		return
	}
	s.mu.Lock()
	for i := range s.convs {
		if s.convs[i].User.ID == otherID {
			s.convs[i].UnreadCount = 0
			s.convs[i].LastMessage.IsRead = true
		}
	}
	s.mu.Unlock()
	s.changes.fire()
	_ = s.repo.MarkConversationRead(ctx, s.self, otherID)
}

// Conversations returns a snapshot of the current list.
func (s *ConversationStore) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.convs))
	copy(out, s.convs)
	return out
}

// OnChange registers a callback fired after every state change.
func (s *ConversationStore) OnChange(fn func()) (cancel func()) {
	return s.changes.add(fn)
}

func (s *ConversationStore) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.convs = nil
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

func (s *ConversationStore) setConversations(convs []model.Conversation) {
	s.mu.Lock()
	s.convs = convs
	s.mu.Unlock()
	s.changes.fire()
}

// reduceConversations folds a newest-first message history into one
// conversation per distinct other party. The first message seen for a party
// wins as the preview; rows whose other party is missing, already seen, or
// equal to self are dropped.
func reduceConversations(self string, msgs []model.Message, unread map[string]int) []model.Conversation {
	seen := make(map[string]bool)
	var out []model.Conversation
	for _, m := range msgs {
		var other *model.ProfileSummary
		var otherID string
		if m.UserID == self {
			other = m.Recipient
			otherID = m.RecipientOrEmpty()
		} else {
			other = m.Author
			otherID = m.UserID
		}
		if other == nil || otherID == "" || otherID == self || seen[otherID] {
			continue
		}
		seen[otherID] = true
		summary := *other
		summary.ID = otherID
		out = append(out, model.Conversation{
			User:        summary,
			LastMessage: m,
			UnreadCount: unread[otherID],
		})
	}
	return out
}
