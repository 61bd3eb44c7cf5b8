// Package snapshotcache is the best-effort Redis projection of the most
// recent workflow snapshot, used for fast dashboard reads. The state store
// is always authoritative; a cache miss falls back there.
package snapshotcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

const (
	keyPrefix  = "workflow:state:"
	DefaultTTL = 3600 * time.Second
)

// Cache wraps a go-redis client as the snapshot cache adapter.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func key(id string) string {
	return keyPrefix + id
}

// Get returns the cached snapshot for id, or (nil, nil) on a cache miss —
// callers must fall back to the state store.
func (c *Cache) Get(ctx context.Context, id string) (*workflow.Snapshot, error) {
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "read snapshot cache")
	}

	var snap workflow.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode cached snapshot")
	}
	return &snap, nil
}

// Set writes snap under a ttl (default DefaultTTL for a zero value). Writes
// happen at exactly the points where the state store mutates and are never
// a source of truth.
func (c *Cache) Set(ctx context.Context, snap workflow.Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode snapshot")
	}
	if err := c.client.Set(ctx, key(snap.ID), raw, ttl).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "write snapshot cache")
	}
	return nil
}

// Delete removes the cached snapshot for id.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "delete snapshot cache")
	}
	return nil
}

// Invalidate removes every cached snapshot whose id matches pattern, using
// SCAN rather than KEYS to avoid blocking Redis on a large keyspace.
func (c *Cache) Invalidate(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "scan snapshot cache")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "invalidate snapshot cache")
	}
	return nil
}
