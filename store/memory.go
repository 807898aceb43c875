// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept in memory. It's used by tests and by the
// server when no database path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*Record
	lastID  int64
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
//
// Supported options:
//   - WithNow
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getOpts(opt...)
	return &MemoryStore{
		records: map[int64]*Record{},
		now:     opts.withNowFunc,
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, r *Record) (*Record, error) {
	const op = "MemoryStore.Create"
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	now := s.now().UTC()
	c := r.Clone()
	c.ID, c.Version, c.CreatedAt, c.UpdatedAt = s.lastID, 1, now, now
	s.records[c.ID] = c
	return c.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, r *Record) (*Record, error) {
	const op = "MemoryStore.Update"
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[r.ID]
	if !ok {
		return nil, fmt.Errorf("%s: id %d: %w", op, r.ID, ErrNotFound)
	}
	if cur.Version != r.Version {
		return nil, fmt.Errorf("%s: id %d is at version %d, not %d: %w", op, r.ID, cur.Version, r.Version, ErrConflict)
	}
	c := r.Clone()
	c.Version, c.CreatedAt, c.UpdatedAt = cur.Version+1, cur.CreatedAt, s.now().UTC()
	s.records[c.ID] = c
	return c.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	const op = "MemoryStore.Delete"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%s: id %d: %w", op, id, ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*Record, error) {
	const op = "MemoryStore.Get"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: id %d: %w", op, id, ErrNotFound)
	}
	return r.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	const op = "MemoryStore.List"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements Store. It's a no-op.
func (s *MemoryStore) Close() error { return nil }
