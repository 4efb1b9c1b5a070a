// Package lock serializes work on shared records inside one process.
//
// Callers pass the full key set in a single Acquire call. Keys are sorted and
// deduplicated before any of them is taken, so two holders never wait on each
// other in opposite orders.
package lock

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewManager() *Manager {
	return &Manager{entries: map[string]*entry{}}
}

// Ticket is an exclusive hold on a key set. Release is safe to call more than once.
type Ticket struct {
	m    *Manager
	keys []string
	once sync.Once
}

func LicensorKey(licensorID string) string { return "licensor:" + licensorID }

func ProjectKey(projectID string) string { return "project:" + projectID }

func OrderKey(orderID string) string { return "order:" + orderID }

// Acquire blocks until every key is held. It never times out; ctx only aborts
// a wait that has not completed yet.
func (m *Manager) Acquire(ctx context.Context, keys ...string) (*Ticket, error) {
	ordered := normalize(keys)
	held := make([]string, 0, len(ordered))
	for _, k := range ordered {
		if err := m.lockOne(ctx, k); err != nil {
			for i := len(held) - 1; i >= 0; i-- {
				m.unlockOne(held[i])
			}
			return nil, err
		}
		held = append(held, k)
	}
	return &Ticket{m: m, keys: held}, nil
}

// Do runs fn while holding keys and releases them on every exit path.
func (m *Manager) Do(ctx context.Context, keys []string, fn func() error) error {
	t, err := m.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer t.Release()
	return fn()
}

func (t *Ticket) Keys() []string {
	return append([]string(nil), t.keys...)
}

func (t *Ticket) Release() {
	t.once.Do(func() {
		for i := len(t.keys) - 1; i >= 0; i-- {
			t.m.unlockOne(t.keys[i])
		}
	})
}

func (m *Manager) lockOne(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return ctx.Err()
	}
}

func (m *Manager) unlockOne(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return
	}
	<-e.ch
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
