package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/realtime"
)

const (
	// ThreadLimit caps how much history a thread loads; the REST thread
	// endpoint uses the same cap.
	ThreadLimit = 50

	// echoWindow bounds the timestamp distance tolerated when matching a
	// server echo against an optimistic entry. Sending the same text twice
	// within the window from two sessions can misfire; known limitation of
	// matching without a client correlation id.
	echoWindow = 2 * time.Second

	// Placeholder author label shown on optimistic entries until the echo
	// carries the real profile.
	optimisticAuthor = "Vous"
)

// ThreadBackend is the slice of the message repository the open thread needs.
type ThreadBackend interface {
	ListThread(ctx context.Context, selfID, otherID string, limit int64) ([]model.Message, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	InsertMessage(ctx context.Context, authorID, recipientID, content string) (*model.Message, error)
}

// ThreadStore maintains the ordered history of the one open conversation and
// keeps it live. Per selection it moves Idle -> Loading -> Live: the list is
// cleared synchronously, the history is fetched oldest-first, then a single
// pair-scoped subscription merges inserts. An epoch counter discards results
// from fetches and subscriptions that outlive their selection.
type ThreadStore struct {
	self string
	repo ThreadBackend
	ch   realtime.Channel
	log  *zap.SugaredLogger

	mu      sync.Mutex
	other   string
	epoch   uint64
	msgs    []model.Message
	sub     realtime.Subscription
	sending bool

	now     func() time.Time
	changes notifier
}

func NewThreadStore(self string, repo ThreadBackend, ch realtime.Channel, log *zap.SugaredLogger) *ThreadStore {
	return &ThreadStore{self: self, repo: repo, ch: ch, log: log, now: time.Now}
}

// Select switches the store to a new correspondent. An empty id returns the
// store to idle. The previous subscription is torn down before the new one
// opens; at most one subscription is active per selection.
func (s *ThreadStore) Select(ctx context.Context, otherID string) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.msgs = nil
	s.other = otherID
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	s.changes.fire()
	if otherID == "" {
		return
	}

	history, err := s.repo.ListThread(ctx, s.self, otherID, ThreadLimit)
	if err != nil {
		s.log.Errorw("load thread", "other", otherID, "err", err)
		history = nil
	}
	s.mu.Lock()
	if epoch != s.epoch {
		// selection changed while the fetch was in flight
		s.mu.Unlock()
		return
	}
	s.msgs = history
	s.mu.Unlock()
	s.changes.fire()

	if s.ch == nil {
		return
	}
	newSub, err := s.ch.Subscribe(realtime.PairTopic(s.self, otherID), func(payload []byte) {
		s.handleInsert(epoch, otherID, payload)
	})
	if err != nil {
		s.log.Errorw("subscribe thread", "other", otherID, "err", err)
		return
	}
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		_ = newSub.Close()
		return
	}
	s.sub = newSub
	s.mu.Unlock()
}

// Send appends an optimistic entry synchronously, then issues the remote
// insert. On failure the optimistic entry is removed and nothing else is
// surfaced. The authoritative copy arrives only through the insert event and
// replaces the optimistic entry in place.
func (s *ThreadStore) Send(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	if s.sending || s.other == "" {
		s.mu.Unlock()
		return
	}
	s.sending = true
	other := s.other
	now := s.now()
	localID := now.UnixMilli()
	recipient := other
	s.msgs = append(s.msgs, model.Message{
		ID:          localID,
		Content:     text,
		UserID:      s.self,
		RecipientID: &recipient,
		CreatedAt:   now,
		Author:      &model.ProfileSummary{FullName: optimisticAuthor},
	})
	s.mu.Unlock()
	s.changes.fire()

	_, err := s.repo.InsertMessage(ctx, s.self, other, text)
	s.mu.Lock()
	s.sending = false
	if err != nil {
		for i := range s.msgs {
			if s.msgs[i].ID == localID {
				s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warnw("send message", "other", other, "err", err)
		s.changes.fire()
	}
}

// Messages returns a snapshot of the current thread, oldest-first.
func (s *ThreadStore) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Other returns the currently selected correspondent id, "" when idle.
func (s *ThreadStore) Other() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.other
}

// OnChange registers a callback fired after every state change.
func (s *ThreadStore) OnChange(fn func()) (cancel func()) {
	return s.changes.add(fn)
}

func (s *ThreadStore) Close() {
	s.mu.Lock()
	s.epoch++
	s.other = ""
	s.msgs = nil
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// handleInsert classifies one insert event. Events that do not belong to the
// (self, other) pair are dropped, which also covers strays from a lagging
// teardown of the previous subscription.
func (s *ThreadStore) handleInsert(epoch uint64, other string, payload []byte) {
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		s.log.Warnw("decode insert event", "err", err)
		return
	}
	recipient := m.RecipientOrEmpty()
	ownEcho := m.UserID == s.self && recipient == other
	inbound := m.UserID == other && recipient == s.self
	if !ownEcho && !inbound {
		return
	}

	if ownEcho {
		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		if i := s.matchOptimistic(&m); i >= 0 {
			s.msgs[i] = m
		} else {
			s.msgs = append(s.msgs, m)
		}
		s.mu.Unlock()
		s.changes.fire()
		return
	}

	// inbound rows are re-read with the author profile joined
	full, err := s.repo.GetMessage(context.Background(), m.ID)
	if err != nil {
		s.log.Warnw("fetch inserted message", "id", m.ID, "err", err)
		return
	}
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	for i := range s.msgs {
		if s.msgs[i].ID == full.ID {
			s.mu.Unlock()
			return
		}
	}
	s.msgs = append(s.msgs, *full)
	s.mu.Unlock()
	s.changes.fire()
}

// matchOptimistic finds an entry with the same author and content whose
// timestamp is within echoWindow of the echo. Caller holds s.mu.
func (s *ThreadStore) matchOptimistic(m *model.Message) int {
	for i := range s.msgs {
		e := &s.msgs[i]
		if e.UserID != s.self || e.Content != m.Content {
			continue
		}
		d := e.CreatedAt.Sub(m.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= echoWindow {
			return i
		}
	}
	return -1
}
