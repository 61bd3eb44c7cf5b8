// Package changetracker implements capability.ChangeTracker by diffing
// the current file listing against the prior listing persisted under
// the most recent KB_SYNC workflow's workflow_data (per the adopted
// design decision recorded in SPEC_FULL.md §9), using
// pkg/statestore.MergeWorkflowData as the single merge primitive rather
// than introducing a sixth keyspace.
package changetracker

import (
	"context"
	"encoding/json"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

// snapshotKey is the workflow_data field the prior file listing is
// persisted under.
const snapshotKey = "file_snapshot"

type fileEntry struct {
	Mtime int64 `json:"mtime"`
	Size  int64 `json:"size"`
}

type snapshotStore interface {
	LatestWorkflowByKind(ctx context.Context, kind workflow.Kind) (*workflow.Workflow, error)
	MergeWorkflowData(ctx context.Context, id string, patch json.RawMessage) error
}

type Tracker struct {
	store snapshotStore
}

func New(store snapshotStore) *Tracker {
	return &Tracker{store: store}
}

// Detect implements capability.ChangeTracker.
func (t *Tracker) Detect(ctx context.Context, currentFiles []capability.FileInfo) (capability.ChangeSet, error) {
	wf, err := t.store.LatestWorkflowByKind(ctx, workflow.KindKBSync)
	prior := map[string]fileEntry{}
	if err == nil {
		prior = extractSnapshot(wf.Data)
	} else if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return capability.ChangeSet{}, err
	}

	current := map[string]fileEntry{}
	for _, f := range currentFiles {
		current[f.Path] = fileEntry{Mtime: f.Mtime, Size: f.Size}
	}

	var changes capability.ChangeSet
	for path, entry := range current {
		priorEntry, existed := prior[path]
		switch {
		case !existed:
			changes.Added = append(changes.Added, path)
		case priorEntry.Mtime != entry.Mtime || priorEntry.Size != entry.Size:
			changes.Modified = append(changes.Modified, path)
		default:
			changes.Unchanged = append(changes.Unchanged, path)
		}
	}
	for path := range prior {
		if _, stillPresent := current[path]; !stillPresent {
			changes.Deleted = append(changes.Deleted, path)
		}
	}
	changes.TotalChanges = len(changes.Added) + len(changes.Modified) + len(changes.Deleted)

	if wf != nil {
		patch, marshalErr := json.Marshal(map[string]map[string]fileEntry{snapshotKey: current})
		if marshalErr != nil {
			return capability.ChangeSet{}, apperrors.Wrap(marshalErr, apperrors.ErrorTypeInternal, "marshal file snapshot")
		}
		if err := t.store.MergeWorkflowData(ctx, wf.ID, patch); err != nil {
			return capability.ChangeSet{}, err
		}
	}

	return changes, nil
}

func extractSnapshot(data json.RawMessage) map[string]fileEntry {
	var wrapper struct {
		FileSnapshot map[string]fileEntry `json:"file_snapshot"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return map[string]fileEntry{}
	}
	if wrapper.FileSnapshot == nil {
		return map[string]fileEntry{}
	}
	return wrapper.FileSnapshot
}
