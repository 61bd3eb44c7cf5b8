// Package workflow defines the engine's shared domain types: the
// Workflow and Step records persisted by the state store, the Snapshot
// projected into the cache, and the Job dispatched on the task queue.
package workflow

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind identifies which DAG a workflow instantiates.
type Kind string

const (
	KindIncidentResponse  Kind = "INCIDENT_RESPONSE"
	KindPostmortemPublish Kind = "POSTMORTEM_PUBLISH"
	KindKBSync            Kind = "KB_SYNC"
)

// Status is the workflow-level state machine: PENDING -> RUNNING -> exactly
// one terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether s is one of the workflow's terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the per-step state machine: PENDING -> RUNNING -> terminal.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// IsTerminal reports whether s is one of the step's terminal states.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Workflow is the authoritative record for one tracked DAG execution.
type Workflow struct {
	ID          string
	Kind        Kind
	Status      Status
	TriggeredBy string
	IncidentRef *string
	Data        json.RawMessage
	Error       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Step is the record for one node of a workflow's DAG.
type Step struct {
	ID            string
	WorkflowID    string
	Name          string
	Order         int
	Status        StepStatus
	RetryCount    int
	TaskID        *string
	ResultSummary json.RawMessage
	Error         *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Snapshot is a dashboard-facing projection of a workflow's status,
// written to the snapshot cache after every status-changing event.
type Snapshot struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Status      Status `json:"status"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	CurrentStep string `json:"current_step,omitempty"`
	Data        any    `json:"workflow_data,omitempty"`
	Steps       []Step `json:"steps,omitempty"`
}

// Progress renders "completed/total" the way spec.md §8's scenario 1
// expects ("5/5").
func (s Snapshot) Progress() string {
	return strconv.Itoa(s.Completed) + "/" + strconv.Itoa(s.Total)
}

// Job is the unit dispatched on the durable task queue to invoke a handler.
type Job struct {
	TaskID       string          `json:"task_id"`
	WorkflowID   string          `json:"workflow_id"`
	StepID       string          `json:"step_id"`
	Handler      string          `json:"handler"`
	Payload      json.RawMessage `json:"payload"`
	Attempt      int             `json:"attempt"`
	UpstreamRefs []string        `json:"upstream_refs,omitempty"`
}
