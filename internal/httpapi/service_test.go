package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/db"
	"github.com/inquest-ai/orchestrator/internal/models"
	"github.com/inquest-ai/orchestrator/internal/workflows"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *mocks.Client) {
	t.Helper()
	mockDB, dbMock, err := sqlmock.New()
	require.NoError(t, err)

	dbClient := db.NewClientFromDB(sqlx.NewDb(mockDB, "postgres"), zap.NewNop())
	t.Cleanup(func() { dbClient.Close() })
	store := db.NewStore(dbClient, zap.NewNop())

	temporalMock := &mocks.Client{}
	return NewService(store, temporalMock, zap.NewNop()), dbMock, temporalMock
}

func TestIntakeStartsWorkflow(t *testing.T) {
	svc, dbMock, temporalMock := newTestService(t)

	dbMock.ExpectExec("INSERT INTO queries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("ignored")
	run.On("GetRunID").Return("run-1")

	var startedID string
	temporalMock.On("ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			startedID = opts.ID
			return opts.TaskQueue == workflows.TaskQueue
		}),
		mock.Anything,
		mock.AnythingOfType("workflows.ResearchInput"),
	).Return(run, nil)

	body := `{"question":"What changed in EV adoption?","context":{"industry":"automotive","max_iterations":4}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.handleIntake(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		QueryID string `json:"query_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.NotEmpty(t, resp.QueryID)
	// Workflow ID equals query ID: one loop per query.
	assert.Equal(t, resp.QueryID, startedID)
	temporalMock.AssertExpectations(t)
}

func TestIntakeRejectsEmptyQuestion(t *testing.T) {
	svc, _, temporalMock := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(`{"question":"  "}`))
	rec := httptest.NewRecorder()
	svc.handleIntake(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	temporalMock.AssertNotCalled(t, "ExecuteWorkflow")
}

func TestIntakeRejectsInvalidJSON(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	svc.handleIntake(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntakeMarksQueryFailedWhenWorkflowStartFails(t *testing.T) {
	svc, dbMock, temporalMock := newTestService(t)

	dbMock.ExpectExec("INSERT INTO queries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE queries SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	temporalMock.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	req := httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	svc.handleIntake(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestStatusUnknownQuery(t *testing.T) {
	svc, dbMock, _ := newTestService(t)

	dbMock.ExpectQuery("SELECT id, question, context, status").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/v1/research/missing", nil)
	rec := httptest.NewRecorder()
	svc.handleStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusRunningQueryOmitsResult(t *testing.T) {
	svc, dbMock, _ := newTestService(t)

	now := time.Now().UTC()
	dbMock.ExpectQuery("SELECT id, question, context, status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "question", "context", "status", "error_message", "created_at", "updated_at"}).
			AddRow("q1", "What changed?", nil, "acting", nil, now, now))
	dbMock.ExpectQuery("SELECT query_id, sequence, thought").
		WillReturnRows(sqlmock.NewRows([]string{"query_id", "sequence", "thought", "action_tool", "action_input", "observation", "created_at"}).
			AddRow("q1", 1, "search", "web_search", nil, nil, now))

	req := httptest.NewRequest(http.MethodGet, "/v1/research/q1", nil)
	rec := httptest.NewRecorder()
	svc.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusActing, resp.Query.Status)
	require.Len(t, resp.Iterations, 1)
	assert.Nil(t, resp.Result)
}

func TestStatusCompletedQueryIncludesResult(t *testing.T) {
	svc, dbMock, _ := newTestService(t)

	now := time.Now().UTC()
	dbMock.ExpectQuery("SELECT id, question, context, status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "question", "context", "status", "error_message", "created_at", "updated_at"}).
			AddRow("q1", "What changed?", nil, "completed", nil, now, now))
	dbMock.ExpectQuery("SELECT query_id, sequence, thought").
		WillReturnRows(sqlmock.NewRows([]string{"query_id", "sequence", "thought", "action_tool", "action_input", "observation", "created_at"}))

	citations, _ := json.Marshal([]models.Citation{{Source: "Wire", URL: "https://example.com/w"}})
	dbMock.ExpectQuery("SELECT query_id, answer, confidence").
		WillReturnRows(sqlmock.NewRows([]string{"query_id", "answer", "confidence", "citations", "trace", "metadata", "completed_at"}).
			AddRow("q1", "the answer", 0.8, citations, nil, nil, now))

	req := httptest.NewRequest(http.MethodGet, "/v1/research/q1", nil)
	rec := httptest.NewRecorder()
	svc.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, "the answer", resp.Result.Answer)
	require.Len(t, resp.Result.Citations, 1)
}

func TestStatusRejectsNestedPath(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/research/q1/extra", nil)
	rec := httptest.NewRecorder()
	svc.handleStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntakeMethodNotAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/research", nil)
	rec := httptest.NewRecorder()
	svc.handleIntake(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
