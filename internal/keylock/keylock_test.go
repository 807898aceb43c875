// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_Lock(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	m := New[string]()

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		overlap atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Lock(ctx, "a")
			if !assert.NoError(err) {
				return
			}
			defer h.Unlock()
			if holders.Add(1) > 1 {
				overlap.Add(1)
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(int32(0), overlap.Load())
	assert.Equal(0, m.Len())

	a, err := m.Lock(ctx, "a")
	require.NoError(err)
	b, err := m.Lock(ctx, "b")
	require.NoError(err, "other keys aren't blocked")
	assert.Equal(2, m.Len())
	a.Unlock()
	b.Unlock()
	assert.Equal(0, m.Len())
}

func TestMap_Lock_canceled(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m := New[int64]()
	h, err := m.Lock(context.Background(), 1)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, 1)
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.Equal(1, m.Len())

	h.Unlock()
	assert.Equal(0, m.Len())
}

func TestHeld_Unlock_twice(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	m := New[int64]()
	h, err := m.Lock(context.Background(), 1)
	require.NoError(err)
	h.Unlock()
	h.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := m.Lock(ctx, 1)
	require.NoError(err)
	again.Unlock()
	require.Equal(0, m.Len())
}

func TestHeld_Valid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name       string
		invalidate func(m *Map[string])
		wantValid  bool
	}{
		{name: "untouched", invalidate: func(*Map[string]) {}, wantValid: true},
		{name: "other-key", invalidate: func(m *Map[string]) { m.Invalidate("b") }, wantValid: true},
		{name: "same-key", invalidate: func(m *Map[string]) { m.Invalidate("a") }},
		{name: "all", invalidate: func(m *Map[string]) { m.InvalidateAll() }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			m := New[string]()
			h, err := m.Lock(ctx, "a")
			require.NoError(err)
			tt.invalidate(m)
			assert.Equal(tt.wantValid, h.Valid())
			h.Unlock()

			next, err := m.Lock(ctx, "a")
			require.NoError(err)
			defer next.Unlock()
			assert.True(next.Valid(), "a later holder is unaffected")
		})
	}
}

func TestMap_Invalidate_doesNotWait(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m := New[string]()
	h, err := m.Lock(context.Background(), "a")
	require.NoError(err)
	defer h.Unlock()

	done := make(chan struct{})
	go func() {
		m.Invalidate("a")
		m.Invalidate("missing")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow("invalidate waited on the held lock")
	}
	assert.False(h.Valid())
}
