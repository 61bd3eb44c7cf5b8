// Package capability declares the narrow, engine-facing contracts for
// every external collaborator the workflow engine is polymorphic over. The
// engine owns these interfaces; concrete implementations live in the
// sibling packages (llmclient, codehost, notifier, vectorstore, logparser,
// filescanner, changetracker).
package capability

import "context"

// PostmortemContext is the input to LLM.GeneratePostmortem.
type PostmortemContext struct {
	IncidentTitle       string
	IncidentDescription string
	Severity            string
	Timeline            []string
}

// Postmortem is the LLM's structured output.
type Postmortem struct {
	Summary        string
	Timeline       []string
	RootCause      string
	Impact         string
	Resolution     string
	LessonsLearned []string
}

// LLM generates postmortem content. May fail with a transient or permanent
// apperrors kind.
type LLM interface {
	GeneratePostmortem(ctx context.Context, input PostmortemContext) (Postmortem, error)
}

// Issue is the result of successfully creating a code-host issue.
type Issue struct {
	URL    string
	Number int
	State  string
}

// Skipped is a first-class success variant returned when the code-host
// integration is disabled by configuration.
type Skipped struct {
	Reason string
}

// CodeHost creates tracking issues. A disabled integration returns Skipped,
// not an error.
type CodeHost interface {
	CreateIssue(ctx context.Context, title, body string, labels, assignees []string) (*Issue, *Skipped, error)
}

// Operation distinguishes a create from an update in VectorStore.Embed's
// result.
type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
)

// BatchStatus summarizes a VectorStore.BatchApply outcome.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailed  BatchStatus = "failed"
)

// EmbedResult is VectorStore.Embed's output.
type EmbedResult struct {
	EmbeddingID string
	ChunkCount  int
	Operation   Operation
}

// SearchResult is one hit from VectorStore.Search.
type SearchResult struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// BatchResult is VectorStore.BatchApply's output.
type BatchResult struct {
	Updated int
	Deleted int
	Status  BatchStatus
}

// VectorStore embeds, searches, and maintains the knowledge-base index.
type VectorStore interface {
	Embed(ctx context.Context, docID, text string, metadata map[string]string) (EmbedResult, error)
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
	Delete(ctx context.Context, docID string) error
	BatchApply(ctx context.Context, upserts map[string]string, deletes []string) (BatchResult, error)
}

// NotifyStatus summarizes a Notifier.Send outcome.
type NotifyStatus string

const (
	NotifySuccess NotifyStatus = "success"
	NotifyPartial NotifyStatus = "partial"
	NotifyFailed  NotifyStatus = "failed"
)

// NotifyResult is Notifier.Send's output.
type NotifyResult struct {
	Sent   []string
	Failed []string
	Status NotifyStatus
}

// Notifier fans a message out to one or more channels.
type Notifier interface {
	Send(ctx context.Context, message string, channels []string, metadata map[string]string) (NotifyResult, error)
}

// LogAnalysis is LogParser.Parse's output.
type LogAnalysis struct {
	ErrorsFound int
	Timeline    []string
	Patterns    []string
}

// LogParser extracts structured signal from a raw log file. Fails if the
// file is missing or unparseable.
type LogParser interface {
	Parse(ctx context.Context, path string) (LogAnalysis, error)
}

// FileInfo is one entry from FileScanner.Scan.
type FileInfo struct {
	Path  string
	Mtime int64
	Size  int64
}

// FileScanner lists files under a directory. Fails if the directory is
// absent.
type FileScanner interface {
	Scan(ctx context.Context, dir, pattern string, recursive bool) ([]FileInfo, error)
}

// ChangeSet is ChangeTracker.Detect's output.
type ChangeSet struct {
	Added        []string
	Modified     []string
	Deleted      []string
	Unchanged    []string
	TotalChanges int
}

// ChangeTracker detects file-set drift across calls. Stateful: it owns
// persistence of the previous snapshot.
type ChangeTracker interface {
	Detect(ctx context.Context, currentFiles []FileInfo) (ChangeSet, error)
}
