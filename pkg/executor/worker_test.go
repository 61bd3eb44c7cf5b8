package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/registry"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/retrypolicy"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/snapshotcache"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/statestore"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/taskqueue"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

type fakeAdvancer struct {
	calls []string
}

func (f *fakeAdvancer) Advance(ctx context.Context, workflowID, stepID string) error {
	f.calls = append(f.calls, workflowID+"/"+stepID)
	return nil
}

func newTestWorker(t *testing.T) (*Worker, sqlmock.Sqlmock, *miniredis.Miniredis, *registry.Registry, *fakeAdvancer) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := statestore.New(sqlx.NewDb(db, "sqlmock"))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	queue := taskqueue.New(client)
	cache := snapshotcache.New(client)

	reg := registry.New()
	adv := &fakeAdvancer{}

	w := New(queue, store, cache, reg, adv, zap.NewNop(), DefaultConfig())
	return w, mock, mr, reg, adv
}

func expectStepLookupAndUpdate(mock sqlmock.Sqlmock, stepID, currentStatus string) {
	rows := sqlmock.NewRows([]string{
		"id", "workflow_id", "name", "step_order", "status", "retry_count",
		"task_id", "result_summary", "error", "started_at", "completed_at",
	}).AddRow(stepID, "wf-1", "create_incident_record", 1, currentStatus, 0, nil, nil, nil, nil, nil)

	mock.ExpectQuery("SELECT \\* FROM workflow_steps").WithArgs(stepID).WillReturnRows(rows)
	mock.ExpectExec("UPDATE workflow_steps SET").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestHandleJob_UnknownHandlerWritesFailedAndAcks(t *testing.T) {
	w, mock, _, _, adv := newTestWorker(t)
	ctx := context.Background()

	expectStepLookupAndUpdate(mock, "step-1", "PENDING")

	job := workflow.Job{TaskID: "t-1", WorkflowID: "wf-1", StepID: "step-1", Handler: "does_not_exist", Payload: []byte(`{}`)}
	w.handleJob(ctx, job)

	assert.Contains(t, adv.calls, "wf-1/step-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleJob_SuccessWritesCompletedAndAdvances(t *testing.T) {
	w, mock, _, reg, adv := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Name: "create_incident_record",
		Handler: func(ctx context.Context, args, upstream json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"incident_id":"inc-1"}`), nil
		},
		RetryPolicy: retrypolicy.DefaultPolicy(),
	}))

	// RUNNING bind
	expectStepLookupAndUpdate(mock, "step-1", "PENDING")
	// COMPLETED write
	expectStepLookupAndUpdate(mock, "step-1", "RUNNING")
	// refreshSnapshot after RUNNING and after COMPLETED both query the workflow+steps
	mock.ExpectQuery("SELECT \\* FROM workflows").WillReturnRows(sqlmock.NewRows([]string{
		"id", "kind", "status", "triggered_by", "incident_ref", "workflow_data",
		"error", "created_at", "updated_at", "completed_at",
	}).AddRow("wf-1", "INCIDENT_RESPONSE", "RUNNING", "alice", nil, []byte(`{}`), nil, time.Now(), time.Now(), nil)).Times(2)
	mock.ExpectQuery("SELECT \\* FROM workflow_steps WHERE workflow_id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "workflow_id", "name", "step_order", "status", "retry_count",
		"task_id", "result_summary", "error", "started_at", "completed_at",
	}).AddRow("step-1", "wf-1", "create_incident_record", 1, "RUNNING", 0, nil, nil, nil, nil, nil)).Times(2)

	job := workflow.Job{TaskID: "t-1", WorkflowID: "wf-1", StepID: "step-1", Handler: "create_incident_record", Payload: []byte(`{}`)}
	w.handleJob(ctx, job)

	assert.Contains(t, adv.calls, "wf-1/step-1")
}

func TestHandleJob_RetryableFailureSchedulesRequeue(t *testing.T) {
	w, mock, mr, reg, adv := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Name: "create_incident_record",
		Handler: func(ctx context.Context, args, upstream json.RawMessage) (json.RawMessage, error) {
			return nil, apperrors.New(apperrors.ErrorTypeNetwork, "upstream timed out")
		},
		RetryPolicy: retrypolicy.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 3},
	}))

	expectStepLookupAndUpdate(mock, "step-1", "PENDING")
	expectStepLookupAndUpdate(mock, "step-1", "RUNNING")
	mock.ExpectQuery("SELECT \\* FROM workflows").WillReturnRows(sqlmock.NewRows([]string{
		"id", "kind", "status", "triggered_by", "incident_ref", "workflow_data",
		"error", "created_at", "updated_at", "completed_at",
	}).AddRow("wf-1", "INCIDENT_RESPONSE", "RUNNING", "alice", nil, []byte(`{}`), nil, time.Now(), time.Now(), nil))
	mock.ExpectQuery("SELECT \\* FROM workflow_steps WHERE workflow_id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "workflow_id", "name", "step_order", "status", "retry_count",
		"task_id", "result_summary", "error", "started_at", "completed_at",
	}).AddRow("step-1", "wf-1", "create_incident_record", 1, "RUNNING", 0, nil, nil, nil, nil, nil))

	job := workflow.Job{TaskID: "t-1", WorkflowID: "wf-1", StepID: "step-1", Handler: "create_incident_record", Payload: []byte(`{}`), Attempt: 0}
	w.handleJob(ctx, job)

	assert.Empty(t, adv.calls, "a retryable failure must not advance the workflow yet")
	assert.True(t, mr.Exists("tq:delayed"), "retry must be rescheduled onto the delayed sorted set")
}

func TestHandleJob_PermanentFailureWritesFailedAndAcks(t *testing.T) {
	w, mock, _, reg, adv := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Name: "create_incident_record",
		Handler: func(ctx context.Context, args, upstream json.RawMessage) (json.RawMessage, error) {
			return nil, apperrors.NewValidationError("malformed payload")
		},
		RetryPolicy: retrypolicy.DefaultPolicy(),
	}))

	expectStepLookupAndUpdate(mock, "step-1", "PENDING")
	expectStepLookupAndUpdate(mock, "step-1", "RUNNING")
	mock.ExpectQuery("SELECT \\* FROM workflows").WillReturnRows(sqlmock.NewRows([]string{
		"id", "kind", "status", "triggered_by", "incident_ref", "workflow_data",
		"error", "created_at", "updated_at", "completed_at",
	}).AddRow("wf-1", "INCIDENT_RESPONSE", "RUNNING", "alice", nil, []byte(`{}`), nil, time.Now(), time.Now(), nil)).Times(2)
	mock.ExpectQuery("SELECT \\* FROM workflow_steps WHERE workflow_id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "workflow_id", "name", "step_order", "status", "retry_count",
		"task_id", "result_summary", "error", "started_at", "completed_at",
	}).AddRow("step-1", "wf-1", "create_incident_record", 1, "RUNNING", 0, nil, nil, nil, nil, nil)).Times(2)

	job := workflow.Job{TaskID: "t-1", WorkflowID: "wf-1", StepID: "step-1", Handler: "create_incident_record", Payload: []byte(`{}`)}
	w.handleJob(ctx, job)

	assert.Contains(t, adv.calls, "wf-1/step-1")
}

func TestInvoke_SoftTimeoutReturnsRetryableErrorImmediately(t *testing.T) {
	w, _, _, _, _ := newTestWorker(t)
	w.cfg = Config{SoftTimeout: time.Millisecond, HardTimeout: 50 * time.Millisecond}

	entry := registry.Entry{
		Name: "slow_handler",
		Handler: func(ctx context.Context, args, upstream json.RawMessage) (json.RawMessage, error) {
			time.Sleep(20 * time.Millisecond)
			return json.RawMessage(`{}`), nil
		},
	}

	started := time.Now()
	_, err := w.invoke(context.Background(), entry, workflow.Job{Payload: []byte(`{}`)})
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errSoftTimeout))
	assert.Less(t, elapsed, 20*time.Millisecond, "invoke must return at the soft limit, not wait for the handler")

	ae, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.True(t, retrypolicy.DefaultPolicy().ShouldRetry(0, ae), "a soft timeout must be retryable")
}

func TestHandleJob_SoftTimeoutSchedulesRetryNotSuccess(t *testing.T) {
	w, mock, mr, reg, adv := newTestWorker(t)
	w.cfg = Config{SoftTimeout: time.Millisecond, HardTimeout: 50 * time.Millisecond}
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Name: "slow_handler",
		Handler: func(ctx context.Context, args, upstream json.RawMessage) (json.RawMessage, error) {
			time.Sleep(20 * time.Millisecond)
			return json.RawMessage(`{"ok":true}`), nil
		},
		RetryPolicy: retrypolicy.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 3},
	}))

	expectStepLookupAndUpdate(mock, "step-1", "PENDING")
	expectStepLookupAndUpdate(mock, "step-1", "RUNNING")
	mock.ExpectQuery("SELECT \\* FROM workflows").WillReturnRows(sqlmock.NewRows([]string{
		"id", "kind", "status", "triggered_by", "incident_ref", "workflow_data",
		"error", "created_at", "updated_at", "completed_at",
	}).AddRow("wf-1", "INCIDENT_RESPONSE", "RUNNING", "alice", nil, []byte(`{}`), nil, time.Now(), time.Now(), nil))
	mock.ExpectQuery("SELECT \\* FROM workflow_steps WHERE workflow_id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "workflow_id", "name", "step_order", "status", "retry_count",
		"task_id", "result_summary", "error", "started_at", "completed_at",
	}).AddRow("step-1", "wf-1", "slow_handler", 1, "RUNNING", 0, nil, nil, nil, nil, nil))

	job := workflow.Job{TaskID: "t-1", WorkflowID: "wf-1", StepID: "step-1", Handler: "slow_handler", Payload: []byte(`{}`)}
	w.handleJob(ctx, job)

	assert.Empty(t, adv.calls, "a handler resolving between soft and hard timeout must not be reported as success")
	assert.True(t, mr.Exists("tq:delayed"), "soft timeout must schedule a retry, not advance the workflow")
}

func TestInvoke_ResolvesBeforeSoftTimeout(t *testing.T) {
	w, _, _, _, _ := newTestWorker(t)

	entry := registry.Entry{
		Name: "fast_handler",
		Handler: func(ctx context.Context, args, upstream json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
	}

	out, err := w.invoke(context.Background(), entry, workflow.Job{Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}
