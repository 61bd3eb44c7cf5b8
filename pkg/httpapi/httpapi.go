// Package httpapi is the trigger surface the external control plane calls
// into: one route per workflow kind plus a snapshot lookup (spec.md
// §6.1). It is a thin translation layer — payload validation via
// go-playground/validator, then a single delegated call into
// pkg/orchestrator or the snapshot cache/state store.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/clockid"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/orchestrator"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/shared/logging"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/snapshotcache"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/statestore"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/workflow"
)

// Composer is the subset of pkg/orchestrator's contract the HTTP layer
// needs.
type Composer interface {
	Compose(ctx context.Context, t orchestrator.Trigger) (string, error)
}

var validate = validator.New()

// Server wires the four routes onto a chi.Mux.
type Server struct {
	composer Composer
	store    *statestore.Store
	cache    *snapshotcache.Cache
	clock    clockid.Clock
	logger   *zap.Logger
	router   chi.Router
}

func New(composer Composer, store *statestore.Store, cache *snapshotcache.Cache, clock clockid.Clock, logger *zap.Logger) *Server {
	s := &Server{composer: composer, store: store, cache: cache, clock: clock, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Post("/incident/{incident_id}", s.handleIncident)
	r.Post("/postmortem/{incident_id}", s.handlePostmortem)
	r.Post("/kb-sync", s.handleKBSync)
	r.Get("/{workflow_id}", s.handleGetWorkflow)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type incidentRequest struct {
	Title       string  `json:"title" validate:"required"`
	Description string  `json:"description" validate:"required"`
	Severity    string  `json:"severity" validate:"required,oneof=low medium high critical"`
	LogFilePath string  `json:"log_file_path"`
	TriggeredBy *string `json:"triggered_by"`
}

type composeResponse struct {
	WorkflowID string    `json:"workflow_id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	Message    string    `json:"message"`
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incident_id")

	var req incidentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	triggeredBy := "api"
	if req.TriggeredBy != nil {
		triggeredBy = *req.TriggeredBy
	}

	id, err := s.composer.Compose(r.Context(), orchestrator.Trigger{
		Kind:        workflow.KindIncidentResponse,
		TriggeredBy: triggeredBy,
		IncidentRef: &incidentID,
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		LogFilePath: req.LogFilePath,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeAccepted(w, id, workflow.KindIncidentResponse, "incident response workflow accepted")
}

type postmortemRequest struct {
	TriggeredBy *string `json:"triggered_by"`
}

func (s *Server) handlePostmortem(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incident_id")

	var req postmortemRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	triggeredBy := "api"
	if req.TriggeredBy != nil {
		triggeredBy = *req.TriggeredBy
	}

	id, err := s.composer.Compose(r.Context(), orchestrator.Trigger{
		Kind:        workflow.KindPostmortemPublish,
		TriggeredBy: triggeredBy,
		IncidentRef: &incidentID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeAccepted(w, id, workflow.KindPostmortemPublish, "postmortem publish workflow accepted")
}

type kbSyncRequest struct {
	RunbooksDir string  `json:"runbooks_dir" validate:"required"`
	TriggeredBy *string `json:"triggered_by"`
}

func (s *Server) handleKBSync(w http.ResponseWriter, r *http.Request) {
	var req kbSyncRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	triggeredBy := "scheduler"
	if req.TriggeredBy != nil {
		triggeredBy = *req.TriggeredBy
	}

	info, err := os.Stat(req.RunbooksDir)
	if os.IsNotExist(err) {
		s.writeError(w, r, apperrors.NewValidationError("runbooks_dir does not exist: "+req.RunbooksDir))
		return
	}
	if err != nil {
		s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "stat runbooks_dir"))
		return
	}
	if !info.IsDir() {
		s.writeError(w, r, apperrors.NewValidationError("runbooks_dir is not a directory: "+req.RunbooksDir))
		return
	}

	id, err := s.composer.Compose(r.Context(), orchestrator.Trigger{
		Kind:        workflow.KindKBSync,
		TriggeredBy: triggeredBy,
		RunbooksDir: req.RunbooksDir,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeAccepted(w, id, workflow.KindKBSync, "kb sync workflow accepted")
}

// workflowResponse is the snapshot shape returned by GET /{workflow_id},
// the snapshot augmented with its step list.
type workflowResponse struct {
	workflow.Snapshot
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow_id")
	ctx := r.Context()

	snap, err := s.cache.Get(ctx, workflowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snap == nil {
		snap, err = s.refreshFromStore(ctx, workflowID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, workflowResponse{Snapshot: *snap})
}

func (s *Server) refreshFromStore(ctx context.Context, workflowID string) (*workflow.Snapshot, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	completed := 0
	for _, st := range steps {
		if st.Status == workflow.StepCompleted || st.Status == workflow.StepSkipped {
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
	if err := s.cache.Set(ctx, snap, 0); err != nil {
		s.logger.Warn("failed to refresh snapshot cache", logging.Fields{"workflow_id": workflowID}.Error(err).ToZap()...)
	}
	return &snap, nil
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, apperrors.NewValidationError("malformed request body"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		s.writeError(w, r, apperrors.NewValidationError(err.Error()))
		return false
	}
	return true
}

func (s *Server) writeAccepted(w http.ResponseWriter, workflowID string, kind workflow.Kind, message string) {
	s.writeJSON(w, http.StatusAccepted, composeResponse{
		WorkflowID: workflowID,
		Type:       string(kind),
		Status:     string(workflow.StatusPending),
		CreatedAt:  s.clock.Now(),
		Message:    message,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", logging.Fields{"path": r.URL.Path}.Error(err).ToZap()...)
	s.writeJSON(w, apperrors.GetStatusCode(err), errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
