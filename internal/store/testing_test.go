package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/entraide-ong/backoffice/internal/logger"
	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/realtime"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger { return logger.Nop() }

// fakeChannel is an in-process realtime feed for tests.
type fakeChannel struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]realtime.Handler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[string]map[int]realtime.Handler)}
}

func (c *fakeChannel) Subscribe(topic string, h realtime.Handler) (realtime.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]realtime.Handler)
	}
	id := c.next
	c.next++
	c.subs[topic][id] = h
	return &fakeSubscription{ch: c, topic: topic, id: id}, nil
}

func (c *fakeChannel) emit(topic string, payload []byte) {
	c.mu.Lock()
	handlers := make([]realtime.Handler, 0, len(c.subs[topic]))
	for _, h := range c.subs[topic] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (c *fakeChannel) subscriberCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[topic])
}

type fakeSubscription struct {
	ch    *fakeChannel
	topic string
	id    int
}

func (s *fakeSubscription) Close() error {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()
	delete(s.ch.subs[s.topic], s.id)
	return nil
}

// fakeMessageBackend implements ConversationBackend and ThreadBackend.
type fakeMessageBackend struct {
	mu sync.Mutex

	history []model.Message // newest-first, as ListUserMessages returns
	threads map[string][]model.Message
	byID    map[int64]model.Message
	counts  map[string]int

	listErr   error
	countErr  error
	insertErr error
	markErr   error

	listCalls   int
	markCalls   [][2]string
	insertCalls int

	// when set for an other id, ListThread blocks until the channel closes
	blockList map[string]chan struct{}
	// when set, InsertMessage blocks until the channel closes
	blockInsert chan struct{}

	lastThreadLimit int64
}

func newFakeMessageBackend() *fakeMessageBackend {
	return &fakeMessageBackend{
		threads:   make(map[string][]model.Message),
		byID:      make(map[int64]model.Message),
		counts:    make(map[string]int),
		blockList: make(map[string]chan struct{}),
	}
}

func (f *fakeMessageBackend) ListUserMessages(ctx context.Context, userID string) ([]model.Message, error) {
	f.mu.Lock()
	f.listCalls++
	err := f.listErr
	out := append([]model.Message(nil), f.history...)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeMessageBackend) CountUnreadBySender(ctx context.Context, userID string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return nil, f.countErr
	}
	out := make(map[string]int, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

func (f *fakeMessageBackend) MarkConversationRead(ctx context.Context, recipientID, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, [2]string{recipientID, senderID})
	return f.markErr
}

func (f *fakeMessageBackend) ListThread(ctx context.Context, selfID, otherID string, limit int64) ([]model.Message, error) {
	f.mu.Lock()
	f.lastThreadLimit = limit
	block := f.blockList[otherID]
	out := append([]model.Message(nil), f.threads[otherID]...)
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return out, nil
}

func (f *fakeMessageBackend) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &m, nil
}

func (f *fakeMessageBackend) InsertMessage(ctx context.Context, authorID, recipientID, content string) (*model.Message, error) {
	f.mu.Lock()
	block := f.blockInsert
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	m := model.Message{
		ID:          int64(1000 + f.insertCalls),
		UserID:      authorID,
		RecipientID: &recipientID,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	return &m, nil
}

func msg(id int64, author, recipient, content string, at time.Time) model.Message {
	r := recipient
	m := model.Message{
		ID:        id,
		UserID:    author,
		Content:   content,
		CreatedAt: at,
	}
	if recipient != "" {
		m.RecipientID = &r
	}
	return m
}

func withProfiles(m model.Message, authorName, recipientName string) model.Message {
	if authorName != "" {
		m.Author = &model.ProfileSummary{ID: m.UserID, FullName: authorName}
	}
	if recipientName != "" && m.RecipientID != nil {
		m.Recipient = &model.ProfileSummary{ID: *m.RecipientID, FullName: recipientName}
	}
	return m
}
