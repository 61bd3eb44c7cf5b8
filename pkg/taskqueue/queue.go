// Package taskqueue is the durable task queue adapter: a Redis list for
// ready jobs, a processing list + per-job lease key for ack-late reservation
// tracking, and a sorted set keyed by due-time for scheduled/delayed
// (retry) jobs.
package taskqueue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

const (
	readyKey       = "tq:ready"
	processingKey  = "tq:processing"
	delayedKey     = "tq:delayed"
	leaseKeyPrefix = "tq:lease:"
)

// Queue is the Redis-backed task queue adapter.
type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Submit serializes job as a portable JSON structure and pushes it onto the
// ready list, returning its TaskID for correlation.
func (q *Queue) Submit(ctx context.Context, job workflow.Job) (string, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode job")
	}
	if err := q.client.RPush(ctx, readyKey, raw).Err(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "submit job")
	}
	return job.TaskID, nil
}

// Reserve blocks (up to timeout) for the next ready job, atomically moving
// it onto the processing list and taking out a lease, so a worker loss
// before Ack/Nack causes redelivery once the lease expires (see
// ReclaimExpired). A zero result with nil error means the timeout elapsed
// with nothing to reserve.
func (q *Queue) Reserve(ctx context.Context, timeout time.Duration, leaseSeconds int) (*workflow.Job, error) {
	raw, err := q.client.BLMove(ctx, readyKey, processingKey, "LEFT", "RIGHT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "reserve job")
	}

	var job workflow.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode reserved job")
	}

	if err := q.client.Set(ctx, leaseKeyPrefix+job.TaskID, raw, time.Duration(leaseSeconds)*time.Second).Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "take job lease")
	}
	return &job, nil
}

// removeFromProcessing drops one matching occurrence of job from the
// processing list, tolerating the case where ReclaimExpired already moved
// it back to ready (LRem on a non-matching list is a harmless no-op).
func (q *Queue) removeFromProcessing(ctx context.Context, job workflow.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode job")
	}
	if err := q.client.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "remove from processing")
	}
	return q.client.Del(ctx, leaseKeyPrefix+job.TaskID).Err()
}

// Ack acknowledges job after its handler reached a terminal outcome,
// removing it from the processing list and releasing its lease.
func (q *Queue) Ack(ctx context.Context, job workflow.Job) error {
	if err := q.removeFromProcessing(ctx, job); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "ack job")
	}
	return nil
}

// Nack acknowledges failure. If requeue is true the job is pushed back onto
// the ready list immediately; otherwise it is dropped (the caller has
// already recorded the terminal FAILED step).
func (q *Queue) Nack(ctx context.Context, job workflow.Job, requeue bool) error {
	if err := q.removeFromProcessing(ctx, job); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "nack job")
	}
	if !requeue {
		return nil
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode job")
	}
	if err := q.client.RPush(ctx, readyKey, raw).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "requeue job")
	}
	return nil
}

// Schedule removes reserved from the processing list (if present, mirroring
// a Nack — reserved must match the exact bytes Reserve handed out, since
// removal is a byte-equality LRem) and places next on the delayed sorted
// set, due at now+delay, for retries and backoff. next is usually reserved
// with its Attempt field incremented; the two are split so retry-count
// bookkeeping never corrupts the processing-list removal.
func (q *Queue) Schedule(ctx context.Context, reserved, next workflow.Job, delay time.Duration) error {
	_ = q.removeFromProcessing(ctx, reserved)

	raw, err := json.Marshal(next)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode job")
	}
	due := float64(time.Now().Add(delay).Unix())
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: raw}).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "schedule job")
	}
	return nil
}

// PromoteDue moves every delayed job whose due-time has elapsed onto the
// ready list. Callers (the worker loop, or a dedicated ticker) invoke this
// periodically since Redis has no native delayed-queue primitive.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: formatScore(now)}).Result()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "scan delayed jobs")
	}
	if len(due) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, member := range due {
		pipe.RPush(ctx, readyKey, member)
		pipe.ZRem(ctx, delayedKey, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "promote delayed jobs")
	}
	return len(due), nil
}

// ReclaimExpired scans the processing list for jobs whose lease key has
// expired (the reserving worker died without Ack/Nack) and moves them back
// onto the ready list for redelivery.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	items, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "scan processing jobs")
	}

	reclaimed := 0
	for _, raw := range items {
		var job workflow.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		exists, err := q.client.Exists(ctx, leaseKeyPrefix+job.TaskID).Result()
		if err != nil {
			return reclaimed, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "check job lease")
		}
		if exists > 0 {
			continue
		}
		if err := q.client.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
			return reclaimed, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "reclaim expired job")
		}
		if err := q.client.RPush(ctx, readyKey, raw).Err(); err != nil {
			return reclaimed, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "requeue reclaimed job")
		}
		reclaimed++
	}
	return reclaimed, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
