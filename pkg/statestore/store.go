// Package statestore is the authoritative, transactional persistence
// layer for Workflow and Step records, backed by Postgres via
// github.com/jackc/pgx/v5's stdlib driver and queried through
// github.com/jmoiron/sqlx.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/statestore/sqlutil"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

// Store is the Postgres-backed state store adapter.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres through pgx's stdlib driver and applies the
// schema idempotently.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "connect to state store").MarkFatal()
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "apply state store schema").MarkFatal()
	}
	return &Store{db: db}, nil
}

// New wraps an already-open sqlx.DB (used by tests against sqlmock).
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateWorkflow inserts a new Workflow with status PENDING.
func (s *Store) CreateWorkflow(ctx context.Context, id string, kind workflow.Kind, actor string, incidentRef *string, data json.RawMessage) (*workflow.Workflow, error) {
	if data == nil {
		data = json.RawMessage(`{}`)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, kind, status, triggered_by, incident_ref, workflow_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, string(kind), string(workflow.StatusPending), actor, sqlutil.ToNullString(incidentRef), data, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create workflow")
	}

	return &workflow.Workflow{
		ID:          id,
		Kind:        kind,
		Status:      workflow.StatusPending,
		TriggeredBy: actor,
		IncidentRef: incidentRef,
		Data:        data,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type workflowRow struct {
	ID          string          `db:"id"`
	Kind        string          `db:"kind"`
	Status      string          `db:"status"`
	TriggeredBy string          `db:"triggered_by"`
	IncidentRef sql.NullString  `db:"incident_ref"`
	Data        json.RawMessage `db:"workflow_data"`
	Error       sql.NullString  `db:"error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt sql.NullTime    `db:"completed_at"`
}

func (r workflowRow) toDomain() *workflow.Workflow {
	return &workflow.Workflow{
		ID:          r.ID,
		Kind:        workflow.Kind(r.Kind),
		Status:      workflow.Status(r.Status),
		TriggeredBy: r.TriggeredBy,
		IncidentRef: sqlutil.FromNullString(r.IncidentRef),
		Data:        r.Data,
		Error:       sqlutil.FromNullString(r.Error),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: sqlutil.FromNullTime(r.CompletedAt),
	}
}

// GetWorkflow fetches a Workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM workflows WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("workflow")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get workflow")
	}
	return row.toDomain(), nil
}

// LatestWorkflowByKind fetches the most recently created workflow of the
// given kind, used by the KB_SYNC change tracker to locate the record it
// persists its prior file-list snapshot under.
func (s *Store) LatestWorkflowByKind(ctx context.Context, kind workflow.Kind) (*workflow.Workflow, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM workflows WHERE kind = $1 ORDER BY created_at DESC LIMIT 1
	`, string(kind))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("workflow")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get latest workflow by kind")
	}
	return row.toDomain(), nil
}

// SetWorkflowStatus transitions a workflow's status, setting completed_at
// if the new status is terminal. Regression past a terminal status is
// forbidden.
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, status workflow.Status, errMsg *string) error {
	current, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return apperrors.NewValidationError("workflow already in terminal status").WithDetails(string(current.Status))
	}

	now := time.Now().UTC()
	var completedAt sql.NullTime
	if status.IsTerminal() {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE workflows SET status = $1, error = $2, updated_at = $3, completed_at = COALESCE(completed_at, $4)
		WHERE id = $5
	`, string(status), sqlutil.ToNullString(errMsg), now, completedAt, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "set workflow status")
	}
	return nil
}

// MergeWorkflowData shallow-merges patch into workflow_data, last-writer-wins
// at the top level, atomically.
func (s *Store) MergeWorkflowData(ctx context.Context, id string, patch json.RawMessage) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET workflow_data = workflow_data || $1::jsonb, updated_at = $2
		WHERE id = $3
	`, patch, now, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "merge workflow data")
	}
	return nil
}

// CreateStep inserts a new Step record in PENDING status.
func (s *Store) CreateStep(ctx context.Context, id, workflowID, name string, order int, taskID *string) (*workflow.Step, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (id, workflow_id, name, step_order, status, task_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, workflowID, name, order, string(workflow.StepPending), sqlutil.ToNullString(taskID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create step")
	}
	return &workflow.Step{
		ID:         id,
		WorkflowID: workflowID,
		Name:       name,
		Order:      order,
		Status:     workflow.StepPending,
		TaskID:     taskID,
	}, nil
}

type stepRow struct {
	ID            string          `db:"id"`
	WorkflowID    string          `db:"workflow_id"`
	Name          string          `db:"name"`
	Order         int             `db:"step_order"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	TaskID        sql.NullString  `db:"task_id"`
	ResultSummary json.RawMessage `db:"result_summary"`
	Error         sql.NullString  `db:"error"`
	StartedAt     sql.NullTime    `db:"started_at"`
	CompletedAt   sql.NullTime    `db:"completed_at"`
}

func (r stepRow) toDomain() *workflow.Step {
	return &workflow.Step{
		ID:            r.ID,
		WorkflowID:    r.WorkflowID,
		Name:          r.Name,
		Order:         r.Order,
		Status:        workflow.StepStatus(r.Status),
		RetryCount:    r.RetryCount,
		TaskID:        sqlutil.FromNullString(r.TaskID),
		ResultSummary: r.ResultSummary,
		Error:         sqlutil.FromNullString(r.Error),
		StartedAt:     sqlutil.FromNullTime(r.StartedAt),
		CompletedAt:   sqlutil.FromNullTime(r.CompletedAt),
	}
}

// GetStep fetches one Step by id.
func (s *Store) GetStep(ctx context.Context, id string) (*workflow.Step, error) {
	var row stepRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM workflow_steps WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("step")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get step")
	}
	return row.toDomain(), nil
}

// SetStepStatus transitions a step's status. started_at is set on first
// RUNNING; completed_at on terminal. retry_count increments only when the
// caller explicitly marks the transition as a retry (isRetry) — the status
// pair alone (e.g. RUNNING -> RUNNING) can't distinguish a genuine retry
// from a worker idempotently rebinding a step that redelivery found already
// RUNNING, so callers must say which one this is.
func (s *Store) SetStepStatus(ctx context.Context, id string, status workflow.StepStatus, resultSummary json.RawMessage, errMsg *string, isRetry bool) error {
	current, err := s.GetStep(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	query := `UPDATE workflow_steps SET status = $1, result_summary = COALESCE($2, result_summary), error = $3`
	args := []any{string(status), resultSummary, sqlutil.ToNullString(errMsg)}
	argIdx := 4

	if current.StartedAt == nil && status == workflow.StepRunning {
		query += `, started_at = $` + strconv.Itoa(argIdx)
		args = append(args, now)
		argIdx++
	}
	if status.IsTerminal() {
		query += `, completed_at = $` + strconv.Itoa(argIdx)
		args = append(args, now)
		argIdx++
	}
	if isRetry {
		query += `, retry_count = retry_count + 1`
	}
	query += ` WHERE id = $` + strconv.Itoa(argIdx)
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "set step status")
	}
	return nil
}

// SetStepTaskID records the task id a step's job was published under, once
// the orchestrator emits it (at composition for a root step, or at Advance
// time once its upstream dependencies are satisfied).
func (s *Store) SetStepTaskID(ctx context.Context, id, taskID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workflow_steps SET task_id = $1 WHERE id = $2`, taskID, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "set step task id")
	}
	return nil
}

// ListSteps returns every Step belonging to workflowID, ordered by step
// order.
func (s *Store) ListSteps(ctx context.Context, workflowID string) ([]workflow.Step, error) {
	var rows []stepRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order ASC
	`, workflowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list steps")
	}
	steps := make([]workflow.Step, len(rows))
	for i, r := range rows {
		steps[i] = *r.toDomain()
	}
	return steps, nil
}
