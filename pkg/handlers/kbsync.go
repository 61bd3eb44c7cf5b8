package handlers

import (
	"context"
	"encoding/json"
	"os"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
)

func (b *binder) scanDirectory(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	dir := env.str("runbooks_dir")
	if dir == "" {
		return nil, apperrors.NewValidationError("scan_directory: runbooks_dir is required")
	}

	files, err := b.d.FileScanner.Scan(ctx, dir, "*", true)
	if err != nil {
		return nil, err
	}

	serialized := make([]map[string]any, len(files))
	for i, f := range files {
		serialized[i] = map[string]any{"path": f.Path, "mtime": f.Mtime, "size": f.Size}
	}

	out := env.with(map[string]any{"files": serialized})
	return out.encode()
}

func (b *binder) detectChanges(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	rawFiles, _ := env["files"].([]any)
	files := make([]capability.FileInfo, 0, len(rawFiles))
	for _, rf := range rawFiles {
		m, ok := rf.(map[string]any)
		if !ok {
			continue
		}
		path, _ := m["path"].(string)
		mtime, _ := m["mtime"].(float64)
		size, _ := m["size"].(float64)
		files = append(files, capability.FileInfo{Path: path, Mtime: int64(mtime), Size: int64(size)})
	}

	changes, err := b.d.ChangeTracker.Detect(ctx, files)
	if err != nil {
		return nil, err
	}

	out := env.with(map[string]any{
		"added":         changes.Added,
		"modified":      changes.Modified,
		"deleted":       changes.Deleted,
		"unchanged":     changes.Unchanged,
		"total_changes": changes.TotalChanges,
	})
	return out.encode()
}

// dispatchEmbeddings folds spec.md §4.7's conditional
// group(regenerate_embedding per file) + batch_update_vector_store into a
// single call to capability.VectorStore.BatchApply: every added/modified
// file is read and upserted, every deleted path is dropped from the
// index. A file that disappeared between scan_directory and this step is
// skipped rather than failing the whole batch, since detect_changes
// already observed it as present.
func (b *binder) dispatchEmbeddings(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	added := env.strSlice("added")
	modified := env.strSlice("modified")
	deleted := env.strSlice("deleted")

	upserts := make(map[string]string, len(added)+len(modified))
	var skipped []string
	for _, path := range append(append([]string{}, added...), modified...) {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			skipped = append(skipped, path)
			continue
		}
		upserts[path] = string(data)
	}

	result, err := b.d.VectorStore.BatchApply(ctx, upserts, deleted)
	if err != nil {
		return nil, err
	}

	out := env.with(map[string]any{
		"batch_updated": result.Updated,
		"batch_deleted": result.Deleted,
		"batch_status":  string(result.Status),
		"batch_skipped": skipped,
	})
	return out.encode()
}

// invalidateCache is the workflow's final confirmation step. This engine
// has no runbook-search cache distinct from the per-workflow snapshot
// cache (pkg/snapshotcache), and dispatch_embeddings already committed
// the authoritative state to the vector store, so there is nothing left
// to evict — the handler only folds the batch outcome into the final
// report a caller reads back via GET /{workflow_id}. When detect_changes
// found nothing (total_changes == 0), there were no embedding jobs and
// nothing to invalidate: the report reflects that instead of always
// claiming an invalidation happened, per the documented "no_changes"
// outcome.
func (b *binder) invalidateCache(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	invalidated := len(env.strSlice("added")) + len(env.strSlice("modified")) + len(env.strSlice("deleted"))
	status := "updated"
	if invalidated == 0 {
		status = "no_changes"
	}
	out := env.with(map[string]any{
		"cache_invalidated": invalidated > 0,
		"invalidated_keys":  invalidated,
		"status":            status,
	})
	return out.encode()
}
