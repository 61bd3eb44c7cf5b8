package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

// createIncidentRecord stamps an incident id and timestamp onto the
// trigger envelope. There is no separate incident-management table in
// this engine's persisted schema (spec.md §6.2) — the workflow row
// created by Orchestrator.Compose already carries the incident reference,
// so this handler's job is limited to the id/timestamp stamping every
// downstream handler keys off of, grounded on
// original_source/backend/workflows/tasks/incident_tasks.py's
// create_incident_record return shape.
func (b *binder) createIncidentRecord(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	incidentID := b.d.IDs.NewID()
	createdAt := b.d.Clock.Now().UTC().Format(time.RFC3339)

	out := env.with(map[string]any{
		"incident_id": incidentID,
		"created_at":  createdAt,
	})
	b.d.Logger.Info("create_incident_record completed", b.log("create_incident_record").Custom("incident_id", incidentID).ToZap()...)
	return out.encode()
}

func (b *binder) analyzeLogsAsync(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	path := env.str("log_file_path")
	if path == "" {
		return nil, apperrors.NewValidationError("analyze_logs_async: log_file_path is required")
	}

	analysis, err := b.d.LogParser.Parse(ctx, path)
	if err != nil {
		return nil, err
	}

	out := env.with(map[string]any{
		"errors_found": analysis.ErrorsFound,
		"timeline":     analysis.Timeline,
		"patterns":     analysis.Patterns,
	})
	return out.encode()
}

func (b *binder) searchRelatedRunbooks(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	query := strings.Join(env.strSlice("patterns"), " ")
	if query == "" {
		query = env.str("description")
	}

	results, err := b.d.VectorStore.Search(ctx, query, 5)
	if err != nil {
		return nil, err
	}

	runbooks := make([]map[string]any, 0, len(results))
	for _, r := range results {
		category := "general"
		title := r.ID
		if r.Metadata != nil {
			if v, ok := r.Metadata["category"]; ok {
				category = v
			}
			if v, ok := r.Metadata["title"]; ok {
				title = v
			}
		}
		runbooks = append(runbooks, map[string]any{
			"title":           title,
			"category":        category,
			"relevance_score": 1 - r.Distance,
		})
	}

	out := env.with(map[string]any{"runbooks": runbooks})
	return out.encode()
}

// createGithubIssue serves both the incident-response chain (plain body
// built from the incident fields) and the postmortem chord (body already
// rendered by render_template) — the presence of "rendered_body"
// distinguishes the two, since this handler has no other way to learn
// which workflow kind it is running under.
func (b *binder) createGithubIssue(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	title := env.str("title")
	body := env.str("rendered_body")
	labels := []string{"incident"}
	if body != "" {
		labels = []string{"postmortem"}
		title = "Postmortem: " + title
	} else {
		body = fmt.Sprintf("%s\n\nSeverity: %s\n", env.str("description"), env.str("severity"))
		if runbooks, ok := env["runbooks"]; ok {
			if raw, err := json.Marshal(runbooks); err == nil {
				body += "\nRelated runbooks:\n" + string(raw)
			}
		}
	}

	issue, skipped, err := b.d.CodeHost.CreateIssue(ctx, title, body, labels, nil)
	if err != nil {
		return nil, err
	}

	var out envelope
	if skipped != nil {
		out = env.with(map[string]any{
			"issue_skipped":     true,
			"issue_skip_reason": skipped.Reason,
		})
	} else {
		out = env.with(map[string]any{
			"issue_url":    issue.URL,
			"issue_number": issue.Number,
			"issue_state":  issue.State,
		})
	}
	return out.encode()
}

func (b *binder) sendNotification(ctx context.Context, args, _ json.RawMessage) (json.RawMessage, error) {
	env, err := decodeEnvelope(args)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("[%s] %s", strings.ToUpper(env.str("severity")), env.str("title"))
	if url := env.str("issue_url"); url != "" {
		message += "\nTracking issue: " + url
	}

	result, err := b.d.Notifier.Send(ctx, message, b.d.Channels, map[string]string{"incident_id": env.str("incident_id")})
	if err != nil {
		return nil, err
	}

	out := env.with(map[string]any{
		"sent_to":          result.Sent,
		"notify_status":    string(result.Status),
		"notify_failed_to": result.Failed,
	})
	return out.encode()
}
