// Package httpapi exposes the intake and status boundaries plus the event
// stream endpoints. These are thin adapters over the store and Temporal; the
// loop itself lives in internal/workflows.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/db"
	"github.com/inquest-ai/orchestrator/internal/metrics"
	"github.com/inquest-ai/orchestrator/internal/models"
	"github.com/inquest-ai/orchestrator/internal/workflows"
)

// Service handles research intake and status requests.
type Service struct {
	store    *db.Store
	temporal client.Client
	logger   *zap.Logger
}

func NewService(store *db.Store, temporalClient client.Client, logger *zap.Logger) *Service {
	return &Service{store: store, temporal: temporalClient, logger: logger}
}

// RegisterRoutes registers the API routes on the provided mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/research", s.handleIntake)
	mux.HandleFunc("/v1/research/", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
}

type intakeRequest struct {
	Question string               `json:"question"`
	Context  *models.QueryContext `json:"context,omitempty"`
}

type intakeResponse struct {
	QueryID string `json:"query_id"`
	Status  string `json:"status"`
}

// handleIntake creates the query record and starts its workflow. The
// workflow ID equals the query ID so a duplicate start cannot spawn a second
// concurrent loop for the same query.
func (s *Service) handleIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	now := time.Now().UTC()
	query := models.Query{
		ID:        uuid.New().String(),
		Question:  req.Question,
		Context:   req.Context,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateQuery(r.Context(), &query); err != nil {
		s.logger.Error("failed to create query", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create query")
		return
	}

	_, err := s.temporal.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        query.ID,
		TaskQueue: workflows.TaskQueue,
	}, workflows.ResearchWorkflow, workflows.ResearchInput{QueryID: query.ID})
	if err != nil {
		s.logger.Error("failed to start research workflow",
			zap.String("query_id", query.ID),
			zap.Error(err),
		)
		if markErr := s.store.MarkQueryFailed(r.Context(), query.ID, "failed to start research loop"); markErr != nil {
			s.logger.Error("failed to mark query failed", zap.Error(markErr))
		}
		writeError(w, http.StatusInternalServerError, "failed to start research")
		return
	}

	metrics.QueriesStarted.Inc()
	s.logger.Info("research query accepted",
		zap.String("query_id", query.ID),
		zap.String("question", snippet(req.Question, 120)),
	)
	writeJSON(w, http.StatusAccepted, intakeResponse{QueryID: query.ID, Status: string(query.Status)})
}

type statusResponse struct {
	Query      models.Query           `json:"query"`
	Iterations []models.Iteration     `json:"iterations"`
	Result     *models.ResearchResult `json:"result,omitempty"`
}

// handleStatus returns the current status, the iteration ledger, and the
// result when the query is terminal.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/research/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}

	query, err := s.store.GetQuery(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load query", zap.String("query_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load query")
		return
	}

	iterations, err := s.store.ListIterations(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load iterations", zap.String("query_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load iterations")
		return
	}

	resp := statusResponse{Query: *query, Iterations: iterations}
	if query.Status.IsTerminal() {
		result, err := s.store.GetResult(r.Context(), id)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			s.logger.Error("failed to load result", zap.String("query_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load result")
			return
		}
		resp.Result = result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
