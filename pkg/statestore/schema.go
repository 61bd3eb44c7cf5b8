package statestore

// schema is applied idempotently at startup via CREATE TABLE IF NOT EXISTS;
// schema/migration tooling beyond this is explicitly out of scope per
// spec.md §1.
const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	triggered_by TEXT NOT NULL,
	incident_ref UUID,
	workflow_data JSONB NOT NULL DEFAULT '{}',
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_workflows_status_created_at ON workflows (status, created_at);
CREATE INDEX IF NOT EXISTS idx_workflows_kind_status ON workflows (kind, status);
CREATE INDEX IF NOT EXISTS idx_workflows_incident_ref ON workflows (incident_ref);

CREATE TABLE IF NOT EXISTS workflow_steps (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	step_order INT NOT NULL,
	status TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	task_id TEXT,
	result_summary JSONB,
	error TEXT,
	UNIQUE (workflow_id, step_order)
);

CREATE INDEX IF NOT EXISTS idx_workflow_steps_workflow_order ON workflow_steps (workflow_id, step_order);
`
