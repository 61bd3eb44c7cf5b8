// Package distlock implements keyed mutual exclusion on Redis: an atomic
// SET NX PX for acquisition and a Lua compare-and-delete for release, so a
// holder can never release a lock it no longer owns.
package distlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

const keyPrefix = "lock:"

// releaseScript deletes key only if its current value still matches the
// caller's token, preventing a late release from stealing a lock some
// other holder has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Lock is a Redis-backed distributed lock over a single keyspace.
type Lock struct {
	client *redis.Client
}

// New wraps a go-redis client as a Lock service.
func New(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// Acquire attempts SET NX PX on "lock:{name}" with a random fencing token,
// polling every 100ms until waitSeconds elapses. A waitSeconds of 0 makes a
// single attempt and returns ("", nil) immediately on contention.
func (l *Lock) Acquire(ctx context.Context, name string, leaseSeconds, waitSeconds int) (string, error) {
	key := keyPrefix + name
	token := uuid.New().String()
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for {
		ok, err := l.client.SetNX(ctx, key, token, time.Duration(leaseSeconds)*time.Second).Result()
		if err != nil {
			return "", apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "acquire lock %s", name)
		}
		if ok {
			return token, nil
		}
		if waitSeconds <= 0 || time.Now().After(deadline) {
			return "", nil
		}
		select {
		case <-ctx.Done():
			return "", apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeTimeout, "acquire lock "+name)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release compare-and-deletes "lock:{name}" if its value still equals
// token, returning whether this caller actually held the lock.
func (l *Lock) Release(ctx context.Context, name, token string) (bool, error) {
	key := keyPrefix + name
	result, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return false, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "release lock %s", name)
	}
	return result == 1, nil
}

// Holder returns the current token holding name, or "" if unheld.
func (l *Lock) Holder(ctx context.Context, name string) (string, error) {
	token, err := l.client.Get(ctx, keyPrefix+name).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "read lock holder %s", name)
	}
	return token, nil
}
