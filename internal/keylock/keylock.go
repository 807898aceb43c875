// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package keylock provides mutual exclusion per key, where waiting for a key
// can be abandoned with a context and a key's lock can be invalidated while
// it's held.
package keylock

import (
	"context"
	"sync"
)

// Map holds one lock per key. A key's state exists only while some caller
// holds or waits for its lock. The zero value is not usable; use New.
type Map[K comparable] struct {
	mu     sync.Mutex
	states map[K]*state
}

type state struct {
	// sem has capacity one; holding the lock means having sent to it.
	sem  chan struct{}
	refs int

	// gen is bumped by every Invalidate of the key while the state exists.
	gen uint64
}

// New returns an empty Map.
func New[K comparable]() *Map[K] {
	return &Map[K]{states: map[K]*state{}}
}

// Held is a lock returned by Map.Lock.
type Held[K comparable] struct {
	m    *Map[K]
	key  K
	s    *state
	gen  uint64
	once sync.Once
}

// Lock acquires the lock for k, waiting until ctx is done.
func (m *Map[K]) Lock(ctx context.Context, k K) (*Held[K], error) {
	m.mu.Lock()
	s := m.states[k]
	if s == nil {
		s = &state{sem: make(chan struct{}, 1)}
		m.states[k] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(k, s)
		return nil, ctx.Err()
	}
	m.mu.Lock()
	gen := s.gen
	m.mu.Unlock()
	return &Held[K]{m: m, key: k, s: s, gen: gen}, nil
}

// Unlock releases the lock. Calling it more than once is a no-op.
func (h *Held[K]) Unlock() {
	h.once.Do(func() {
		<-h.s.sem
		h.m.release(h.key, h.s)
	})
}

// Valid reports whether the key hasn't been invalidated since the lock was
// acquired.
func (h *Held[K]) Valid() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.s.gen == h.gen
}

// Invalidate marks the current holder of k, if any, as no longer valid.
// Callers that acquire k afterwards are unaffected. It never waits for the
// lock.
func (m *Map[K]) Invalidate(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.states[k]; s != nil {
		s.gen++
	}
}

// InvalidateAll is Invalidate for every key.
func (m *Map[K]) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		s.gen++
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *Map[K]) release(k K, s *state) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.states, k)
	}
}
