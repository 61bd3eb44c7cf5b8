package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
)

func (b *binder) generatePostmortemSections(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	input := capability.PostmortemContext{
		IncidentTitle:       env.str("title"),
		IncidentDescription: env.str("description"),
		Severity:            env.str("severity"),
		Timeline:            env.strSlice("timeline"),
	}

	pm, err := b.d.LLM.GeneratePostmortem(ctx, input)
	if err != nil {
		return nil, err
	}

	out := env.with(map[string]any{
		"summary":         pm.Summary,
		"timeline":        pm.Timeline,
		"root_cause":      pm.RootCause,
		"impact":          pm.Impact,
		"resolution":      pm.Resolution,
		"lessons_learned": pm.LessonsLearned,
	})
	return out.encode()
}

var postmortemTemplate = template.Must(template.New("postmortem").Parse(`# Postmortem: {{.Title}}

**Severity:** {{.Severity}}

## Summary
{{.Summary}}

## Timeline
{{range .Timeline}}- {{.}}
{{end}}
## Root Cause
{{.RootCause}}

## Impact
{{.Impact}}

## Resolution
{{.Resolution}}

## Lessons Learned
{{range .LessonsLearned}}- {{.}}
{{end}}`))

type postmortemView struct {
	Title          string
	Severity       string
	Summary        string
	Timeline       []string
	RootCause      string
	Impact         string
	Resolution     string
	LessonsLearned []string
}

// renderTemplate turns the generated sections into the markdown body
// create_github_issue and embed_in_vector_store both consume, via stdlib
// text/template — no templating library appears anywhere in the example
// pack, so this is one of the few pieces grounded directly on the
// standard library rather than a third-party dependency.
func (b *binder) renderTemplate(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	view := postmortemView{
		Title:          env.str("title"),
		Severity:       env.str("severity"),
		Summary:        env.str("summary"),
		Timeline:       env.strSlice("timeline"),
		RootCause:      env.str("root_cause"),
		Impact:         env.str("impact"),
		Resolution:     env.str("resolution"),
		LessonsLearned: env.strSlice("lessons_learned"),
	}

	var buf bytes.Buffer
	if err := postmortemTemplate.Execute(&buf, view); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "render postmortem template")
	}

	out := env.with(map[string]any{"rendered_body": buf.String()})
	return out.encode()
}

func (b *binder) embedInVectorStore(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	text := env.str("rendered_body")
	if text == "" {
		return nil, apperrors.NewValidationError("embed_in_vector_store: rendered_body is required")
	}

	docID := env.str("incident_ref")
	if docID == "" {
		docID = b.d.IDs.NewID()
	}

	result, err := b.d.VectorStore.Embed(ctx, docID, text, map[string]string{
		"title":    env.str("title"),
		"severity": env.str("severity"),
	})
	if err != nil {
		return nil, err
	}

	out := env.with(map[string]any{
		"embedding_id":    result.EmbeddingID,
		"chunk_count":     result.ChunkCount,
		"embed_operation": string(result.Operation),
	})
	return out.encode()
}

// notifyStakeholders is the chord callback: args is the ordered array of
// [create_github_issue, embed_in_vector_store]'s results (spec.md §4.7),
// not a single envelope.
func (b *binder) notifyStakeholders(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	members, err := decodeEnvelopeArray(args)
	if err != nil {
		return nil, err
	}
	if len(members) != 2 {
		return nil, apperrors.New(apperrors.ErrorTypeInternal, "notify_stakeholders: expected 2 chord members")
	}
	issueEnv, embedEnv := members[0], members[1]

	var parts []string
	parts = append(parts, "Postmortem published: "+issueEnv.str("title"))
	if url := issueEnv.str("issue_url"); url != "" {
		parts = append(parts, "Issue: "+url)
	}
	if id := embedEnv.str("embedding_id"); id != "" {
		parts = append(parts, "Indexed as: "+id)
	}
	message := strings.Join(parts, "\n")

	result, err := b.d.Notifier.Send(ctx, message, b.d.Channels, map[string]string{"incident_ref": issueEnv.str("incident_ref")})
	if err != nil {
		return nil, err
	}

	out := envelope{
		"sent_to":       result.Sent,
		"notify_status": string(result.Status),
		"issue_url":     issueEnv.str("issue_url"),
		"embedding_id":  embedEnv.str("embedding_id"),
	}
	return out.encode()
}
