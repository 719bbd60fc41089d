package workflows

import (
	"github.com/inquest-ai/orchestrator/internal/models"
)

// TaskQueue is the Temporal task queue shared by the worker and the intake
// endpoint.
const TaskQueue = "research"

// DefaultMaxIterations bounds the reason-act-observe loop when the query
// carries no override.
const DefaultMaxIterations = 10

// ResearchInput starts one research loop. The workflow ID equals the query
// ID, which gives the single-writer-per-query discipline: Temporal rejects a
// second concurrent execution for the same ID.
type ResearchInput struct {
	QueryID string `json:"query_id"`
}

// ResearchOutput summarizes the terminal state for the workflow's caller.
// The authoritative record lives in the store.
type ResearchOutput struct {
	QueryID    string             `json:"query_id"`
	Status     models.QueryStatus `json:"status"`
	Answer     string             `json:"answer,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Citations  []models.Citation  `json:"citations,omitempty"`
	Iterations int                `json:"iterations"`
	ToolCalls  int                `json:"tool_calls"`
	TokensUsed int                `json:"tokens_used"`
	Error      string             `json:"error,omitempty"`
}
