package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/cstar/pkg/cluster"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedisStore(rdb), mr
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRedisStore_UnknownHostIsUnprovisioned(t *testing.T) {
	store, _ := setupRedisStore(t)

	r, err := store.Get(context.Background(), "abc", "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateUnprovisioned, r.State)
	assert.Equal(t, "n0", r.Host)
}

func TestRedisStore_PutGetList(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "abc", Record{Host: "n1", State: cluster.StateRunning, UpdatedAt: fixedClock()}))
	require.NoError(t, store.Put(ctx, "abc", Record{Host: "n0", State: cluster.StateConfigured, RevisionID: "deadbeef", UpdatedAt: fixedClock()}))

	r, err := store.Get(ctx, "abc", "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateConfigured, r.State)
	assert.Equal(t, "deadbeef", r.RevisionID)
	assert.True(t, fixedClock().Equal(r.UpdatedAt))

	records, err := store.List(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "n0", records[0].Host)
	assert.Equal(t, "n1", records[1].Host)

	assert.True(t, mr.Exists(NodesKey("abc")))
	require.NoError(t, store.Clear(ctx, "abc"))
	assert.False(t, mr.Exists(NodesKey("abc")))
}

func TestRedisStore_ClustersAreIsolated(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "one", Record{Host: "n0", State: cluster.StateRunning}))

	r, err := store.Get(ctx, "two", "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateUnprovisioned, r.State)
}

func TestRedisStore_Subscribe(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := store.Subscribe(ctx, "abc")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, store.Put(ctx, "abc", Record{Host: "n0", State: cluster.StateStarting}))

	select {
	case r := <-sub.Events():
		assert.Equal(t, "n0", r.Host)
		assert.Equal(t, cluster.StateStarting, r.State)
	case <-ctx.Done():
		t.Fatal("timed out waiting for node event")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "abc", Record{Host: "n0", State: cluster.StateStopped}))
	r, err := store.Get(ctx, "abc", "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateStopped, r.State)

	require.NoError(t, store.Clear(ctx, "abc"))
	records, err := store.List(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, records)
}
