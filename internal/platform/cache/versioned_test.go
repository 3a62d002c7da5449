package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVersioned(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "planning", time.Minute), mr
}

func TestBumpChangesKeys(t *testing.T) {
	c, _ := newVersioned(t)
	ctx := context.Background()

	before, err := c.BuildKey(ctx, "planning", "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "planning:dashboard:1", before)

	require.NoError(t, c.Bump(ctx))
	after, err := c.BuildKey(ctx, "planning", "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "planning:dashboard:2", after)
}

func TestFirstBumpOnFreshNamespaceInvalidates(t *testing.T) {
	c, mr := newVersioned(t)
	ctx := context.Background()

	require.NoError(t, c.Bump(ctx))
	ver, err := mr.Get("planning:version")
	require.NoError(t, err)
	assert.Equal(t, "2", ver)

	key, err := c.BuildKey(ctx, "planning", "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "planning:dashboard:2", key)
}

func TestFetchJSONCachesAndCoalesces(t *testing.T) {
	c, mr := newVersioned(t)
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return map[string]int{"goals": 3}, nil
	}

	var wg sync.WaitGroup
	results := make([]map[string]int, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.FetchJSON(ctx, "k", &results[i], loader))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 3, r["goals"])
	}
	assert.True(t, mr.Exists("k"))

	var again map[string]int
	require.NoError(t, c.FetchJSON(ctx, "k", &again, loader))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNilClientCallsLoader(t *testing.T) {
	c := NewVersioned(nil, "planning", time.Minute)
	var out []int
	require.NoError(t, c.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return []int{1, 2}, nil
	}))
	assert.Equal(t, []int{1, 2}, out)
	key, err := c.BuildKey(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "a:b", key)
}

func TestSubscribeReceivesBumps(t *testing.T) {
	c, _ := newVersioned(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int64, 1)
	require.NoError(t, c.Subscribe(ctx, func(v int64) { got <- v }))
	require.NoError(t, c.Bump(ctx))

	select {
	case v := <-got:
		assert.Equal(t, int64(2), v)
	case <-time.After(2 * time.Second):
		t.Fatal("no bump received")
	}
}
