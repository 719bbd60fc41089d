package activities

import (
	"time"

	"github.com/inquest-ai/orchestrator/internal/models"
)

// QueryStateResult is the loaded query record plus its iteration ledger.
// MaxIterations carries the deployment-level cap from config; the per-query
// context override still wins in the workflow.
type QueryStateResult struct {
	Query         models.Query       `json:"query"`
	Iterations    []models.Iteration `json:"iterations"`
	MaxIterations int                `json:"max_iterations,omitempty"`
}

// ReasonInput asks the model for the next step of one query.
type ReasonInput struct {
	QueryID    string               `json:"query_id"`
	Question   string               `json:"question"`
	Context    *models.QueryContext `json:"context,omitempty"`
	Iterations []models.Iteration   `json:"iterations"`
}

// ReasonResult carries the parsed decision. Malformed output after the single
// re-prompt is reported as data, not as an activity error, so Temporal does
// not retry a hopeless prompt.
type ReasonResult struct {
	Kind       string                 `json:"kind"`
	Thought    string                 `json:"thought"`
	Tool       string                 `json:"tool,omitempty"`
	ToolInput  map[string]interface{} `json:"tool_input,omitempty"`
	Answer     string                 `json:"answer,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	Citations  []models.Citation      `json:"citations,omitempty"`

	Malformed bool   `json:"malformed,omitempty"`
	RawOutput string `json:"raw_output,omitempty"`

	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
}

// ToolExecutionInput is one tool invocation request.
type ToolExecutionInput struct {
	QueryID  string                 `json:"query_id"`
	Sequence int                    `json:"sequence"`
	Tool     string                 `json:"tool"`
	Args     map[string]interface{} `json:"args,omitempty"`
}

// ToolExecutionResult wraps the result envelope with the observation text to
// feed back into the conversation and any citations harvested from the
// payload.
type ToolExecutionResult struct {
	Result      models.ToolResult `json:"result"`
	Observation string            `json:"observation"`
	Citations   []models.Citation `json:"citations,omitempty"`
}

// SynthesisInput triggers final answer assembly.
type SynthesisInput struct {
	Query      models.Query       `json:"query"`
	Iterations []models.Iteration `json:"iterations"`
	Forced     bool               `json:"forced"`

	// Final decision fields, set on the normal path.
	Answer     string  `json:"answer,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Citations collected across the run: the final decision's own citations
	// plus those harvested from successful tool results.
	Citations []models.Citation `json:"citations,omitempty"`

	TokensUsed int       `json:"tokens_used"`
	ToolCalls  int       `json:"tool_calls"`
	Model      string    `json:"model,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// CreateIterationInput appends one iteration to the ledger.
type CreateIterationInput struct {
	Iteration models.Iteration `json:"iteration"`
}

// AttachObservationInput fills in an iteration's observation.
type AttachObservationInput struct {
	QueryID     string `json:"query_id"`
	Sequence    int    `json:"sequence"`
	Observation string `json:"observation"`
}

// UpdateStatusInput moves the query along the state machine.
type UpdateStatusInput struct {
	QueryID string             `json:"query_id"`
	Status  models.QueryStatus `json:"status"`
}

// MarkFailedInput marks the query failed with an error message.
type MarkFailedInput struct {
	QueryID string `json:"query_id"`
	Message string `json:"message"`
}

// EmitUpdateInput is one fire-and-forget progress snapshot.
type EmitUpdateInput struct {
	QueryID   string    `json:"query_id"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Message   string    `json:"message,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
