package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgmerge/core/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGraphCache tests that graphs are built once per key while fresh.
func TestGraphCache(t *testing.T) {
	ctx := context.Background()
	var builds atomic.Int32
	build := func(context.Context) (*schema.Graph, error) {
		builds.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &schema.Graph{Schema: "public"}, nil
	}

	cache := NewGraphCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := cache.Get(ctx, "db", build)
			assert.NoError(t, err)
			assert.Equal(t, "public", g.Schema)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), builds.Load())

	_, err := cache.Get(ctx, "db", build)
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load())

	cache.Invalidate("db")
	_, err = cache.Get(ctx, "db", build)
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load())
}

// TestGraphCache_Disabled tests that a zero TTL builds on every call and
// that build errors are not cached.
func TestGraphCache_Disabled(t *testing.T) {
	ctx := context.Background()
	cache := NewGraphCache(0)

	var builds int
	_, err := cache.Get(ctx, "db", func(context.Context) (*schema.Graph, error) {
		builds++
		return nil, errors.New("connection refused")
	})
	assert.Error(t, err)

	for i := 0; i < 2; i++ {
		_, err = cache.Get(ctx, "db", func(context.Context) (*schema.Graph, error) {
			builds++
			return &schema.Graph{}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, builds)
}
