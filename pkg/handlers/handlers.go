// Package handlers binds the capability clients (pkg/capability/*) to the
// registry.HandlerFunc closures the three DAG shapes in pkg/orchestrator
// reference by name. Every handler receives the upstream node's result as
// its args and returns a result that becomes the next node's args — so
// each handler decodes, reads what it needs, and re-encodes a widened
// envelope carrying forward whatever a later handler in the same chain
// still needs (the trigger's title/severity, an incident id, and so on),
// since the executor hands a handler only the combined upstream payload,
// never the original trigger alongside it.
package handlers

import (
	"go.uber.org/zap"

	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/clockid"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/orchestrator"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/registry"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/retrypolicy"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/shared/logging"
)

// Deps collects every collaborator a handler closure needs. All fields are
// required except Channels, which defaults to a single local file sink.
type Deps struct {
	LLM           capability.LLM
	CodeHost      capability.CodeHost
	VectorStore   capability.VectorStore
	Notifier      capability.Notifier
	LogParser     capability.LogParser
	FileScanner   capability.FileScanner
	ChangeTracker capability.ChangeTracker
	Clock         clockid.Clock
	IDs           clockid.IDGenerator
	Channels      []string
	Logger        *zap.Logger
}

type binder struct {
	d Deps
}

// Register builds the thirteen handler closures and registers each under
// its DAG handler name, with the engine-wide default retry policy
// (spec.md §4.1) — the notify/search/create handlers touch flaky external
// collaborators the same way the teacher's analyze_logs_async-style tasks
// do, so none opt out of retry.
func Register(reg *registry.Registry, d Deps) error {
	if len(d.Channels) == 0 {
		d.Channels = []string{"file:./notifications"}
	}
	b := &binder{d: d}
	policy := retrypolicy.DefaultPolicy()

	entries := []registry.Entry{
		{Name: orchestrator.HandlerCreateIncidentRecord, Handler: b.createIncidentRecord, RetryPolicy: policy},
		{Name: orchestrator.HandlerAnalyzeLogs, Handler: b.analyzeLogsAsync, RetryPolicy: policy},
		{Name: orchestrator.HandlerSearchRelatedRunbooks, Handler: b.searchRelatedRunbooks, RetryPolicy: policy},
		{Name: orchestrator.HandlerCreateGithubIssue, Handler: b.createGithubIssue, RetryPolicy: policy},
		{Name: orchestrator.HandlerSendNotification, Handler: b.sendNotification, RetryPolicy: policy},
		{Name: orchestrator.HandlerGeneratePostmortem, Handler: b.generatePostmortemSections, RetryPolicy: policy},
		{Name: orchestrator.HandlerRenderTemplate, Handler: b.renderTemplate, RetryPolicy: policy},
		{Name: orchestrator.HandlerEmbedInVectorStore, Handler: b.embedInVectorStore, RetryPolicy: policy},
		{Name: orchestrator.HandlerNotifyStakeholders, Handler: b.notifyStakeholders, RetryPolicy: policy},
		{Name: orchestrator.HandlerScanDirectory, Handler: b.scanDirectory, RetryPolicy: policy},
		{Name: orchestrator.HandlerDetectChanges, Handler: b.detectChanges, RetryPolicy: policy},
		{Name: orchestrator.HandlerDispatchEmbeddings, Handler: b.dispatchEmbeddings, RetryPolicy: policy},
		{Name: orchestrator.HandlerInvalidateCache, Handler: b.invalidateCache, RetryPolicy: policy},
	}

	for _, e := range entries {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}

func (b *binder) log(op string) logging.Fields {
	return logging.Fields{}.Operation(op)
}
