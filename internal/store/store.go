// Package store holds the in-memory state behind the admin panel's messaging
// surfaces: the conversation list, the open message thread and the
// notification feed. Each store exclusively owns its list, exposes an
// explicit Refresh/OnChange/Close lifecycle and merges realtime insert
// events into local state.
package store

import "sync"

// notifier is a minimal change-listener registry shared by the stores.
// Callbacks run on the mutating goroutine and must not block.
type notifier struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (n *notifier) add(fn func()) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fns == nil {
		n.fns = make(map[int]func())
	}
	id := n.next
	n.next++
	n.fns[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.fns, id)
		n.mu.Unlock()
	}
}

func (n *notifier) fire() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.fns))
	for _, fn := range n.fns {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
