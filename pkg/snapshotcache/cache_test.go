package snapshotcache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client), mr
}

func TestGet_Miss(t *testing.T) {
	cache, _ := newTestCache(t)
	snap, err := cache.Get(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSetThenGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	snap := workflow.Snapshot{ID: "wf-1", Kind: workflow.KindIncidentResponse, Status: workflow.StatusRunning, Completed: 2, Total: 5}
	require.NoError(t, cache.Set(ctx, snap, 0))

	got, err := cache.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "wf-1", got.ID)
	assert.Equal(t, "2/5", got.Progress())
}

func TestSet_DefaultsTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	snap := workflow.Snapshot{ID: "wf-2"}
	require.NoError(t, cache.Set(ctx, snap, 0))

	ttl := mr.TTL(key("wf-2"))
	assert.Equal(t, DefaultTTL, ttl)
}

func TestDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, workflow.Snapshot{ID: "wf-3"}, 0))
	require.NoError(t, cache.Delete(ctx, "wf-3"))

	got, err := cache.Get(ctx, "wf-3")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvalidate_MatchesPattern(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, workflow.Snapshot{ID: "wf-a"}, 0))
	require.NoError(t, cache.Set(ctx, workflow.Snapshot{ID: "wf-b"}, 0))

	require.NoError(t, cache.Invalidate(ctx, "*"))

	gotA, err := cache.Get(ctx, "wf-a")
	require.NoError(t, err)
	assert.Nil(t, gotA)

	gotB, err := cache.Get(ctx, "wf-b")
	require.NoError(t, err)
	assert.Nil(t, gotB)
}

func TestInvalidate_NoMatchesIsNoop(t *testing.T) {
	cache, _ := newTestCache(t)
	require.NoError(t, cache.Invalidate(context.Background(), "nonexistent-*"))
}
