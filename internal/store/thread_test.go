package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entraide-ong/backoffice/internal/model"
	"github.com/entraide-ong/backoffice/internal/realtime"
)

func emitMessage(ch *fakeChannel, topic string, m model.Message) {
	payload, _ := json.Marshal(m)
	ch.emit(topic, payload)
}

func TestSendAppendsOneOptimisticEntry(t *testing.T) {
	backend := newFakeMessageBackend()
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())

	s.Select(context.Background(), "u2")
	require.Empty(t, s.Messages())

	s.Send(context.Background(), "hi")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "u1", msgs[0].UserID)
	assert.Equal(t, "u2", msgs[0].RecipientOrEmpty())
	require.NotNil(t, msgs[0].Author)
	assert.Equal(t, "Vous", msgs[0].Author.FullName)
	assert.Equal(t, 1, backend.insertCalls)
}

func TestSendRollsBackOnRemoteFailure(t *testing.T) {
	backend := newFakeMessageBackend()
	backend.insertErr = errors.New("insert failed")
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())

	s.Select(context.Background(), "u2")
	s.Send(context.Background(), "hi")

	assert.Empty(t, s.Messages())
}

func TestSelectFetchesAtMostThreadLimit(t *testing.T) {
	backend := newFakeMessageBackend()
	s := NewThreadStore("u1", backend, newFakeChannel(), testLogger())

	s.Select(context.Background(), "u2")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, int64(ThreadLimit), backend.lastThreadLimit)
}

func TestSendIgnoresBlankAndUnselected(t *testing.T) {
	backend := newFakeMessageBackend()
	s := NewThreadStore("u1", backend, newFakeChannel(), testLogger())

	s.Send(context.Background(), "no selection yet")
	assert.Zero(t, backend.insertCalls)

	s.Select(context.Background(), "u2")
	s.Send(context.Background(), "   \t ")
	assert.Zero(t, backend.insertCalls)
}

func TestSendInFlightGuardDropsOverlap(t *testing.T) {
	backend := newFakeMessageBackend()
	release := make(chan struct{})
	backend.blockInsert = release
	s := NewThreadStore("u1", backend, newFakeChannel(), testLogger())
	s.Select(context.Background(), "u2")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Send(context.Background(), "first")
	}()
	require.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, time.Second, 5*time.Millisecond, "optimistic entry appears while the insert is in flight")

	// a second send while the first is still in flight is dropped whole
	s.Send(context.Background(), "second")
	assert.Len(t, s.Messages(), 1)

	close(release)
	wg.Wait()

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, 1, backend.insertCalls)
}

func TestEchoWithinWindowReplacesInPlace(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	backend := newFakeMessageBackend()
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())
	s.now = func() time.Time { return at }

	s.Select(context.Background(), "u2")
	s.Send(context.Background(), "hi")
	require.Len(t, s.Messages(), 1)

	echo := msg(500, "u1", "u2", "hi", at.Add(time.Second))
	emitMessage(ch, realtime.PairTopic("u1", "u2"), echo)

	msgs := s.Messages()
	require.Len(t, msgs, 1, "echo must replace the optimistic entry")
	assert.Equal(t, int64(500), msgs[0].ID)
}

func TestEchoOutsideWindowAppends(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	backend := newFakeMessageBackend()
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())
	s.now = func() time.Time { return at }

	s.Select(context.Background(), "u2")
	s.Send(context.Background(), "hi")

	late := msg(500, "u1", "u2", "hi", at.Add(5*time.Second))
	emitMessage(ch, realtime.PairTopic("u1", "u2"), late)

	assert.Len(t, s.Messages(), 2)
}

func TestInboundInsertDedupedByID(t *testing.T) {
	backend := newFakeMessageBackend()
	full := withProfiles(msg(7, "u2", "u1", "salut", time.Now()), "Marie", "")
	backend.byID[7] = full
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())

	s.Select(context.Background(), "u2")

	topic := realtime.PairTopic("u1", "u2")
	emitMessage(ch, topic, msg(7, "u2", "u1", "salut", full.CreatedAt))
	emitMessage(ch, topic, msg(7, "u2", "u1", "salut", full.CreatedAt))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Author, "inbound rows are re-read with the join")
	assert.Equal(t, "Marie", msgs[0].Author.FullName)
}

func TestInsertEventsForOtherPairsIgnored(t *testing.T) {
	backend := newFakeMessageBackend()
	backend.byID[8] = msg(8, "u3", "u1", "wrong thread", time.Now())
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())

	s.Select(context.Background(), "u2")
	emitMessage(ch, realtime.PairTopic("u1", "u2"), msg(8, "u3", "u1", "wrong thread", time.Now()))

	assert.Empty(t, s.Messages())
}

func TestStaleHistoryFetchDiscarded(t *testing.T) {
	backend := newFakeMessageBackend()
	backend.threads["A"] = []model.Message{msg(1, "A", "u1", "from A", time.Now())}
	backend.threads["B"] = []model.Message{msg(2, "B", "u1", "from B", time.Now())}
	release := make(chan struct{})
	backend.blockList["A"] = release

	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Select(context.Background(), "A")
	}()
	time.Sleep(20 * time.Millisecond) // let A's fetch start

	s.Select(context.Background(), "B")
	close(release)
	wg.Wait()

	assert.Equal(t, "B", s.Other())
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(2), msgs[0].ID)

	// the stale selection never installs its subscription
	assert.Zero(t, ch.subscriberCount(realtime.PairTopic("u1", "A")))
	assert.Equal(t, 1, ch.subscriberCount(realtime.PairTopic("u1", "B")))
}

func TestSelectionChangeTearsDownSubscription(t *testing.T) {
	backend := newFakeMessageBackend()
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())

	s.Select(context.Background(), "u2")
	require.Equal(t, 1, ch.subscriberCount(realtime.PairTopic("u1", "u2")))

	s.Select(context.Background(), "u3")
	assert.Zero(t, ch.subscriberCount(realtime.PairTopic("u1", "u2")))
	assert.Equal(t, 1, ch.subscriberCount(realtime.PairTopic("u1", "u3")))

	s.Select(context.Background(), "")
	assert.Zero(t, ch.subscriberCount(realtime.PairTopic("u1", "u3")))
	assert.Empty(t, s.Messages())
}

func TestSendThenEchoKeepsSingleBubble(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	backend := newFakeMessageBackend()
	ch := newFakeChannel()
	s := NewThreadStore("u1", backend, ch, testLogger())
	s.now = func() time.Time { return at }

	// no prior history with u2
	s.Select(context.Background(), "u2")
	require.Empty(t, s.Messages())

	s.Send(context.Background(), "Bonjour")
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Bonjour", msgs[0].Content)
	assert.Equal(t, "u1", msgs[0].UserID)

	emitMessage(ch, realtime.PairTopic("u1", "u2"), msg(600, "u1", "u2", "Bonjour", at.Add(300*time.Millisecond)))

	msgs = s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(600), msgs[0].ID)
}
