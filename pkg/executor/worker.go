// Package executor is the worker loop: reserve a job, bind its step to
// RUNNING, invoke the registered handler under breaker+retry, write the
// terminal or retry state, and ack/nack the queue — per spec.md §4.9.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/clockid"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/registry"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/shared/logging"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/snapshotcache"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/statestore"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/taskqueue"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

// Default soft/hard wall-clock limits per spec.md §4.9/§5.
const (
	DefaultSoftTimeout = 9*time.Minute + 30*time.Second
	DefaultHardTimeout = 10 * time.Minute
)

// Advancer is notified when a step reaches a terminal outcome, so the
// orchestrator can schedule downstream nodes (spec.md §4.10's Advance).
// Kept as a narrow interface so pkg/executor never imports pkg/orchestrator.
type Advancer interface {
	Advance(ctx context.Context, workflowID, stepID string) error
}

// Config parametrizes a Worker.
type Config struct {
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{SoftTimeout: DefaultSoftTimeout, HardTimeout: DefaultHardTimeout}
}

// Worker is one instance of the reserve-invoke-ack loop. Multiple Workers
// run concurrently, one job at a time each, per spec.md §5's scheduling
// model.
type Worker struct {
	queue    *taskqueue.Queue
	store    *statestore.Store
	cache    *snapshotcache.Cache
	registry *registry.Registry
	advancer Advancer
	clock    clockid.Clock
	logger   *zap.Logger
	cfg      Config
}

func New(queue *taskqueue.Queue, store *statestore.Store, cache *snapshotcache.Cache, reg *registry.Registry, advancer Advancer, logger *zap.Logger, cfg Config) *Worker {
	return &Worker{
		queue:    queue,
		store:    store,
		cache:    cache,
		registry: reg,
		advancer: advancer,
		clock:    clockid.NewRealClock(),
		logger:   logger,
		cfg:      cfg,
	}
}

// Run blocks, reserving and processing jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, err := w.queue.Reserve(ctx, 5*time.Second, int(w.cfg.HardTimeout.Seconds())+30)
		if err != nil {
			if ae, ok := err.(*apperrors.AppError); ok && ae.Fatal() {
				return err
			}
			w.logger.Error("reserve failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		w.handleJob(ctx, *job)
	}
}

func (w *Worker) handleJob(ctx context.Context, job workflow.Job) {
	fields := logging.StepFields(job.Handler, job.StepID)
	start := w.clock.Now()

	entry, ok := w.registry.Get(job.Handler)
	if !ok {
		msg := "unknown handler: " + job.Handler
		_ = w.store.SetStepStatus(ctx, job.StepID, workflow.StepFailed, nil, &msg, false)
		_ = w.queue.Ack(ctx, job)
		_ = w.advancer.Advance(ctx, job.WorkflowID, job.StepID)
		w.logger.Error("unknown handler", fields.ToZap()...)
		return
	}

	// Idempotent rebind: a redelivery of a step already RUNNING from a
	// previous attempt must not itself count as the retry — only the
	// failure path below, when it actually decides to retry, does.
	if err := w.store.SetStepStatus(ctx, job.StepID, workflow.StepRunning, nil, nil, false); err != nil {
		w.logger.Error("failed to bind step RUNNING", fields.Error(err).ToZap()...)
	}
	w.refreshSnapshot(ctx, job.WorkflowID)

	result, err := w.invoke(ctx, entry, job)

	if err == nil {
		if setErr := w.store.SetStepStatus(ctx, job.StepID, workflow.StepCompleted, result, nil, false); setErr != nil {
			w.logger.Error("failed to write COMPLETED", fields.Error(setErr).ToZap()...)
		}
		_ = w.queue.Ack(ctx, job)
		w.refreshSnapshot(ctx, job.WorkflowID)
		if advErr := w.advancer.Advance(ctx, job.WorkflowID, job.StepID); advErr != nil {
			w.logger.Error("advance failed", fields.Error(advErr).ToZap()...)
		}
		w.logger.Info("step completed", fields.Duration(w.clock.Since(start)).ToZap()...)
		return
	}

	// job.Attempt counts prior retries (0 on first delivery); the policy
	// numbers attempts from 1.
	if entry.RetryPolicy.ShouldRetry(job.Attempt+1, err) {
		delay := entry.RetryPolicy.NextDelay(job.Attempt + 1)
		next := job
		next.Attempt++
		if setErr := w.store.SetStepStatus(ctx, job.StepID, workflow.StepRunning, nil, errMsgPtr(err), true); setErr != nil {
			w.logger.Error("failed to record retry", fields.Error(setErr).ToZap()...)
		}
		if schedErr := w.queue.Schedule(ctx, job, next, delay); schedErr != nil {
			w.logger.Error("failed to schedule retry", fields.Error(schedErr).ToZap()...)
		}
		w.logger.Warn("step retrying", fields.Attempt(next.Attempt).ToZap()...)
		return
	}

	msg := err.Error()
	if setErr := w.store.SetStepStatus(ctx, job.StepID, workflow.StepFailed, nil, &msg, false); setErr != nil {
		w.logger.Error("failed to write FAILED", fields.Error(setErr).ToZap()...)
	}
	_ = w.queue.Ack(ctx, job)
	w.refreshSnapshot(ctx, job.WorkflowID)
	if advErr := w.advancer.Advance(ctx, job.WorkflowID, job.StepID); advErr != nil {
		w.logger.Error("advance failed", fields.Error(advErr).ToZap()...)
	}
	w.logger.Error("step failed, not retrying", fields.Error(err).ToZap()...)
}

var errSoftTimeout = apperrors.New(apperrors.ErrorTypeTimeout, "handler exceeded soft time limit")

type handlerResult struct {
	out json.RawMessage
	err error
}

// invoke runs the handler with a soft wall-clock limit per spec.md §4.9/§5:
// a soft-limit breach surfaces immediately as an ordinary retryable failure
// (handleJob's normal ShouldRetry/Schedule path applies, same as any other
// transient error), since a handler still running past the soft limit is
// treated as failed for this delivery attempt rather than awaited further.
// The handler goroutine itself is not cancelled — entry.Handler does not
// accept a cancellation signal distinct from ctx, and ctx is expected to
// outlive one delivery — so a detached watcher keeps draining resultCh up
// to the hard limit purely to log a late completion/hard-timeout breach;
// it never feeds back into the retry or ack decision, which is already made.
func (w *Worker) invoke(ctx context.Context, entry registry.Entry, job workflow.Job) (json.RawMessage, error) {
	resultCh := make(chan handlerResult, 1)
	go func() {
		out, err := entry.Handler(ctx, job.Payload, nil)
		resultCh <- handlerResult{out, err}
	}()

	softTimer := time.NewTimer(w.cfg.SoftTimeout)
	defer softTimer.Stop()

	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-softTimer.C:
		go w.awaitHardTimeout(resultCh, job, w.cfg.HardTimeout-w.cfg.SoftTimeout)
		return nil, errSoftTimeout
	}
}

// awaitHardTimeout is fire-and-forget cleanup for the handler goroutine
// invoke leaves running after a soft-timeout: it only logs whether the
// handler eventually finished or went on to breach the hard limit too.
func (w *Worker) awaitHardTimeout(resultCh <-chan handlerResult, job workflow.Job, remaining time.Duration) {
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	select {
	case <-resultCh:
		w.logger.Info("handler completed after soft timeout had already rescheduled the step",
			zap.String("step_id", job.StepID))
	case <-time.After(remaining):
		w.logger.Warn("handler exceeded hard timeout after soft-timeout retry was scheduled",
			zap.String("step_id", job.StepID))
	}
}

func (w *Worker) refreshSnapshot(ctx context.Context, workflowID string) {
	wf, err := w.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return
	}
	steps, err := w.store.ListSteps(ctx, workflowID)
	if err != nil {
		return
	}

	completed := 0
	for _, s := range steps {
		if s.Status == workflow.StepCompleted || s.Status == workflow.StepSkipped {
			completed++
		}
	}

	snap := workflow.Snapshot{
		ID:        wf.ID,
		Kind:      wf.Kind,
		Status:    wf.Status,
		Completed: completed,
		Total:     len(steps),
		Steps:     steps,
	}
	_ = w.cache.Set(ctx, snap, 0)
}

func errMsgPtr(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
