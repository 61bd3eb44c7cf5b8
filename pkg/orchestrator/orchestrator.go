// Package orchestrator is the stateless composition/advancement logic that
// turns a trigger into a DAG of steps, emits jobs for ready nodes, and
// reacts to step-terminal notifications — spec.md §4.10. It holds no
// in-memory graph between calls: the built DAG and its node-to-step
// mapping are persisted under the workflow's workflow_data so any process
// can resume Advance after a restart.
package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/clockid"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/dag"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/snapshotcache"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/statestore"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/taskqueue"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

// Handler names for the three concrete DAG shapes (spec.md §4.7).
const (
	HandlerCreateIncidentRecord    = "create_incident_record"
	HandlerAnalyzeLogs             = "analyze_logs_async"
	HandlerSearchRelatedRunbooks   = "search_related_runbooks"
	HandlerCreateGithubIssue       = "create_github_issue"
	HandlerSendNotification        = "send_notification"
	HandlerGeneratePostmortem      = "generate_postmortem_sections"
	HandlerRenderTemplate          = "render_template"
	HandlerEmbedInVectorStore      = "embed_in_vector_store"
	HandlerNotifyStakeholders      = "notify_stakeholders"
	HandlerScanDirectory           = "scan_directory"
	HandlerDetectChanges           = "detect_changes"
	HandlerDispatchEmbeddings      = "dispatch_embeddings"
	HandlerInvalidateCache         = "invalidate_cache"
)

const kbSyncLockName = "kb_sync"

// Trigger carries whatever a trigger endpoint accepted, generalized across
// the three kinds; unused fields for a given Kind are simply ignored.
type Trigger struct {
	Kind        workflow.Kind
	TriggeredBy string
	IncidentRef *string

	// Incident response / postmortem
	Title       string
	Description string
	Severity    string
	LogFilePath string

	// KB sync
	RunbooksDir string
}

// Registry is the subset of pkg/registry's contract the DAG builder needs.
type Registry interface {
	Has(name string) bool
}

// Orchestrator implements Compose/Advance/Cancel against the shared
// persistence layer. It is safe for concurrent use; all coordination runs
// through the state store, the cache, the queue, and the distributed lock.
type Orchestrator struct {
	store    *statestore.Store
	cache    *snapshotcache.Cache
	queue    *taskqueue.Queue
	registry Registry
	lock     Locker
	ids      clockid.IDGenerator
}

// Locker is the subset of pkg/distlock's contract KB_SYNC composition needs.
type Locker interface {
	Acquire(ctx context.Context, name string, leaseSeconds, waitSeconds int) (string, error)
	Release(ctx context.Context, name, token string) (bool, error)
}

func New(store *statestore.Store, cache *snapshotcache.Cache, queue *taskqueue.Queue, registry Registry, lock Locker, ids clockid.IDGenerator) *Orchestrator {
	return &Orchestrator{store: store, cache: cache, queue: queue, registry: registry, lock: lock, ids: ids}
}

// persistedNode mirrors dag.Node plus the step ids materialized for it, so
// the graph and its execution state round-trip through workflow_data.
type persistedNode struct {
	Kind     dag.NodeKind `json:"kind"`
	Handler  string       `json:"handler,omitempty"`
	Members  []string     `json:"members,omitempty"`
	Upstream []int        `json:"upstream"`
	StepIDs  []string     `json:"step_ids"`
}

type persistedGraph struct {
	Nodes    []persistedNode `json:"nodes"`
	LockName string          `json:"lock_name,omitempty"`
	LockTok  string          `json:"lock_token,omitempty"`
}

type graphWrapper struct {
	DAG *persistedGraph `json:"dag"`
}

// buildGraph constructs the DAG for trigger.Kind against the handler
// registry, per spec.md §4.7's concrete shapes.
func buildGraph(reg Registry, t Trigger) (*dag.Graph, error) {
	b := dag.NewBuilder(reg)

	switch t.Kind {
	case workflow.KindIncidentResponse:
		analyze := ""
		if t.LogFilePath != "" {
			analyze = HandlerAnalyzeLogs
		}
		if err := b.Sequence(HandlerCreateIncidentRecord, analyze, HandlerSearchRelatedRunbooks, HandlerCreateGithubIssue, HandlerSendNotification); err != nil {
			return nil, err
		}
	case workflow.KindPostmortemPublish:
		if err := b.Sequence(HandlerGeneratePostmortem, HandlerRenderTemplate); err != nil {
			return nil, err
		}
		if err := b.Chord([]string{HandlerCreateGithubIssue, HandlerEmbedInVectorStore}, HandlerNotifyStakeholders); err != nil {
			return nil, err
		}
	case workflow.KindKBSync:
		// dispatch_embeddings folds the spec's conditional
		// group(regenerate_embedding per file) into one handler invocation
		// over capability.VectorStore.BatchApply, keeping the graph static
		// per the Non-goals exclusion of dynamic DAG rewriting.
		if err := b.Sequence(HandlerScanDirectory, HandlerDetectChanges, HandlerDispatchEmbeddings, HandlerInvalidateCache); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.NewValidationError("unknown workflow kind: " + string(t.Kind))
	}

	return b.Build()
}

// rootPayload builds the static argument payload for a workflow's root
// step(s) from the trigger fields.
func rootPayload(t Trigger) (json.RawMessage, error) {
	switch t.Kind {
	case workflow.KindIncidentResponse, workflow.KindPostmortemPublish:
		return json.Marshal(map[string]any{
			"title":         t.Title,
			"description":   t.Description,
			"severity":      t.Severity,
			"log_file_path": t.LogFilePath,
			"incident_ref":  t.IncidentRef,
		})
	case workflow.KindKBSync:
		return json.Marshal(map[string]any{"runbooks_dir": t.RunbooksDir})
	default:
		return json.RawMessage(`{}`), nil
	}
}

// Compose accepts a trigger, builds its DAG, persists all step records,
// and emits jobs for the DAG's root nodes. Returns the new workflow id.
func (o *Orchestrator) Compose(ctx context.Context, t Trigger) (string, error) {
	var lockToken string
	graphPersisted := false
	if t.Kind == workflow.KindKBSync {
		token, err := o.lock.Acquire(ctx, kbSyncLockName, 600, 0)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", apperrors.New(apperrors.ErrorTypeConflict, "kb sync already in progress")
		}
		lockToken = token
		// Until the graph carrying the token is persisted, a failure
		// releases the lock here; afterwards finishWorkflow owns it.
		defer func() {
			if !graphPersisted {
				_, _ = o.lock.Release(ctx, kbSyncLockName, lockToken)
			}
		}()
	}

	graph, err := buildGraph(o.registry, t)
	if err != nil {
		return "", err
	}

	workflowID := o.ids.NewID()
	if _, err := o.store.CreateWorkflow(ctx, workflowID, t.Kind, t.TriggeredBy, t.IncidentRef, nil); err != nil {
		return "", err
	}

	payload, err := rootPayload(t)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode root payload")
	}

	nodes := make([]persistedNode, len(graph.Nodes))
	order := 1
	for _, idx := range graph.Order {
		n := graph.Nodes[idx]
		pn := persistedNode{Kind: n.Kind, Handler: n.Handler, Members: n.Members, Upstream: n.Upstream}

		names := n.Members
		if n.Kind == dag.NodeHandler {
			names = []string{n.Handler}
		}
		for _, name := range names {
			stepID := o.ids.NewID()
			if _, err := o.store.CreateStep(ctx, stepID, workflowID, name, order, nil); err != nil {
				return "", err
			}
			pn.StepIDs = append(pn.StepIDs, stepID)
			order++
		}
		nodes[idx] = pn
	}

	for _, idx := range graph.Roots() {
		if err := o.emitNode(ctx, workflowID, nodes[idx], payload, nil); err != nil {
			return "", err
		}
	}

	pg := persistedGraph{Nodes: nodes, LockName: kbSyncLockName, LockTok: lockToken}
	if err := o.persistGraph(ctx, workflowID, pg); err != nil {
		return "", err
	}
	graphPersisted = true
	if err := o.refreshSnapshot(ctx, workflowID); err != nil {
		return "", err
	}

	return workflowID, nil
}

func (o *Orchestrator) persistGraph(ctx context.Context, workflowID string, pg persistedGraph) error {
	patch, err := json.Marshal(graphWrapper{DAG: &pg})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode dag")
	}
	return o.store.MergeWorkflowData(ctx, workflowID, patch)
}

func loadGraph(data json.RawMessage) (*persistedGraph, error) {
	var w graphWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode dag")
	}
	if w.DAG == nil {
		return nil, apperrors.New(apperrors.ErrorTypeInternal, "workflow has no persisted dag")
	}
	return w.DAG, nil
}

// emitNode publishes one job per step belonging to node (one for a handler
// node, one per member for a group node), writing each step's task id back.
func (o *Orchestrator) emitNode(ctx context.Context, workflowID string, node persistedNode, payload json.RawMessage, upstreamRefs []string) error {
	handlers := node.Members
	if node.Kind == dag.NodeHandler {
		handlers = []string{node.Handler}
	}
	for i, stepID := range node.StepIDs {
		taskID := o.ids.NewID()
		job := workflow.Job{
			TaskID:       taskID,
			WorkflowID:   workflowID,
			StepID:       stepID,
			Handler:      handlers[i],
			Payload:      payload,
			UpstreamRefs: upstreamRefs,
		}
		if _, err := o.queue.Submit(ctx, job); err != nil {
			return err
		}
		if err := o.store.SetStepTaskID(ctx, stepID, taskID); err != nil {
			return err
		}
	}
	return nil
}

// Advance reacts to stepID reaching a terminal state: it checks whether
// stepID's node (and, for a group, all its siblings) has resolved, then
// schedules any downstream node whose dependencies are now satisfied, or
// marks the workflow terminal. Spec.md §4.10's tie-break: a group callback
// never runs if any member failed, but the workflow only transitions to
// FAILED once every in-flight sibling has reached a terminal state.
func (o *Orchestrator) Advance(ctx context.Context, workflowID, stepID string) error {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return nil
	}

	pg, err := loadGraph(wf.Data)
	if err != nil {
		return err
	}

	steps, err := o.store.ListSteps(ctx, workflowID)
	if err != nil {
		return err
	}
	byID := make(map[string]workflow.Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	if wf.Status == workflow.StatusPending {
		if err := o.store.SetWorkflowStatus(ctx, workflowID, workflow.StatusRunning, nil); err != nil {
			return err
		}
	}

	nodeIdx := indexOfStep(pg.Nodes, stepID)
	if nodeIdx < 0 {
		return apperrors.New(apperrors.ErrorTypeInternal, "step not found in persisted dag: "+stepID)
	}

	resolved, failed := nodeOutcome(pg.Nodes[nodeIdx], byID)
	if !resolved {
		// A sibling in this node's group hasn't finished yet; wait.
		return nil
	}

	if failed {
		return o.finishWorkflow(ctx, workflowID, pg, workflow.StatusFailed, "step failed: "+stepID)
	}

	upstreamRefs := pg.Nodes[nodeIdx].StepIDs
	payload := combinedResult(pg.Nodes[nodeIdx], byID)

	for di, node := range pg.Nodes {
		if !containsInt(node.Upstream, nodeIdx) {
			continue
		}
		depResolved, _ := nodeOutcome(node, byID)
		if depResolved {
			continue // already emitted on a previous Advance call
		}
		if !allUpstreamResolved(pg.Nodes, node.Upstream, byID) {
			continue
		}
		if err := o.emitNode(ctx, workflowID, pg.Nodes[di], payload, upstreamRefs); err != nil {
			return err
		}
	}

	steps, err = o.store.ListSteps(ctx, workflowID)
	if err != nil {
		return err
	}
	allTerminal := true
	anyFailed := false
	for _, s := range steps {
		if !s.Status.IsTerminal() {
			allTerminal = false
			break
		}
		if s.Status == workflow.StepFailed {
			anyFailed = true
		}
	}
	if allTerminal {
		status := workflow.StatusCompleted
		if anyFailed {
			status = workflow.StatusFailed
		}
		return o.finishWorkflow(ctx, workflowID, pg, status, "")
	}

	return o.refreshSnapshot(ctx, workflowID)
}

func (o *Orchestrator) finishWorkflow(ctx context.Context, workflowID string, pg *persistedGraph, status workflow.Status, errMsg string) error {
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	if err := o.store.SetWorkflowStatus(ctx, workflowID, status, errPtr); err != nil {
		return err
	}
	if pg.LockTok != "" {
		_, _ = o.lock.Release(ctx, pg.LockName, pg.LockTok)
	}
	return o.refreshSnapshot(ctx, workflowID)
}

// Cancel best-effort skips every non-terminal step and marks the workflow
// CANCELLED. Present for forward compatibility (spec.md §4.10); no current
// trigger path invokes it.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return nil
	}

	steps, err := o.store.ListSteps(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s.Status.IsTerminal() {
			continue
		}
		if err := o.store.SetStepStatus(ctx, s.ID, workflow.StepSkipped, nil, nil, false); err != nil {
			return err
		}
	}

	pg, err := loadGraph(wf.Data)
	if err != nil {
		pg = &persistedGraph{}
	}
	return o.finishWorkflow(ctx, workflowID, pg, workflow.StatusCancelled, "")
}

func (o *Orchestrator) refreshSnapshot(ctx context.Context, workflowID string) error {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	steps, err := o.store.ListSteps(ctx, workflowID)
	if err != nil {
		return err
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
	return o.cache.Set(ctx, snap, 0)
}

func indexOfStep(nodes []persistedNode, stepID string) int {
	for i, n := range nodes {
		for _, id := range n.StepIDs {
			if id == stepID {
				return i
			}
		}
	}
	return -1
}

// nodeOutcome reports whether every step belonging to node has reached a
// terminal state, and whether any of them failed.
func nodeOutcome(node persistedNode, byID map[string]workflow.Step) (resolved, failed bool) {
	if len(node.StepIDs) == 0 {
		return true, false
	}
	resolved = true
	for _, id := range node.StepIDs {
		s, ok := byID[id]
		if !ok || !s.Status.IsTerminal() {
			resolved = false
			continue
		}
		if s.Status == workflow.StepFailed {
			failed = true
		}
	}
	return resolved, failed
}

func allUpstreamResolved(nodes []persistedNode, upstream []int, byID map[string]workflow.Step) bool {
	for _, u := range upstream {
		resolved, failed := nodeOutcome(nodes[u], byID)
		if !resolved || failed {
			return false
		}
	}
	return true
}

// combinedResult builds the payload handed to downstream nodes: a single
// passthrough value for a handler node, or the ordered result vector for a
// group node (the chord callback's input per spec.md §4.7).
func combinedResult(node persistedNode, byID map[string]workflow.Step) json.RawMessage {
	if node.Kind == dag.NodeHandler {
		if len(node.StepIDs) == 1 {
			if s, ok := byID[node.StepIDs[0]]; ok {
				return s.ResultSummary
			}
		}
		return json.RawMessage(`null`)
	}

	vector := make([]json.RawMessage, 0, len(node.StepIDs))
	for _, id := range node.StepIDs {
		if s, ok := byID[id]; ok {
			vector = append(vector, s.ResultSummary)
		}
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return raw
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
