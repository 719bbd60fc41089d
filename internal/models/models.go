package models

import (
	"time"
)

// QueryStatus tracks a research query through its lifecycle. Transitions are
// monotonic: once a terminal status is reached only the result may be attached.
type QueryStatus string

const (
	StatusPending       QueryStatus = "pending"
	StatusReasoning     QueryStatus = "reasoning"
	StatusActing        QueryStatus = "acting"
	StatusObserving     QueryStatus = "observing"
	StatusSynthesizing  QueryStatus = "synthesizing"
	StatusCompleted     QueryStatus = "completed"
	StatusFailed        QueryStatus = "failed"
	StatusMaxIterations QueryStatus = "max_iterations_reached"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s QueryStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusMaxIterations:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next follows the state machine.
// Any non-terminal state may fail; the loop states cycle reasoning -> acting ->
// observing -> reasoning until synthesis or the iteration cap.
func (s QueryStatus) CanTransition(next QueryStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusReasoning
	case StatusReasoning:
		return next == StatusActing || next == StatusSynthesizing || next == StatusMaxIterations || next == StatusReasoning
	case StatusActing:
		return next == StatusObserving
	case StatusObserving:
		return next == StatusReasoning || next == StatusMaxIterations
	case StatusSynthesizing:
		return next == StatusCompleted || next == StatusMaxIterations
	}
	return false
}

// QueryContext carries optional caller-supplied hints and budgets.
type QueryContext struct {
	Industry         string   `json:"industry,omitempty"`
	Timeframe        string   `json:"timeframe,omitempty"`
	PreferredSources []string `json:"preferred_sources,omitempty"`
	MaxIterations    int      `json:"max_iterations,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	MaxToolCalls     int      `json:"max_tool_calls,omitempty"`
}

// Query is one end-to-end research request.
type Query struct {
	ID           string        `json:"id"`
	Question     string        `json:"question"`
	Context      *QueryContext `json:"context,omitempty"`
	Status       QueryStatus   `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Action is a tool invocation requested by the model.
type Action struct {
	Tool  string                 `json:"tool"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// Iteration is one reasoning/action/observation cycle within a query.
// Sequence numbers are 1-based and dense; the observation is attached after
// the tool returns and the record is never otherwise mutated.
type Iteration struct {
	QueryID     string    `json:"query_id"`
	Sequence    int       `json:"sequence"`
	Thought     string    `json:"thought"`
	Action      *Action   `json:"action,omitempty"`
	Observation string    `json:"observation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToolResult is the uniform envelope for one tool invocation. Failures are
// data, not errors: a failed call is valid input for the next reasoning step.
type ToolResult struct {
	Tool     string      `json:"tool"`
	Success  bool        `json:"success"`
	Output   interface{} `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
	Duration int64       `json:"duration_ms"`
}

// Citation is a single attributable source backing part of the answer.
type Citation struct {
	Source     string    `json:"source"`
	URL        string    `json:"url,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	AccessedAt time.Time `json:"accessed_at"`
}

// DedupKey is the identity used when deduplicating citations: the URL when
// present, the source label otherwise.
func (c Citation) DedupKey() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Source
}

// DedupCitations removes duplicate citations preserving first-seen order and
// truncates the list to max entries (unlimited when max <= 0).
func DedupCitations(citations []Citation, max int) []Citation {
	seen := make(map[string]struct{}, len(citations))
	out := make([]Citation, 0, len(citations))
	for _, c := range citations {
		key := c.DedupKey()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// ResultMetadata summarizes the work behind a research result.
type ResultMetadata struct {
	Iterations  int    `json:"iterations"`
	ToolCalls   int    `json:"tool_calls"`
	TotalTokens int    `json:"total_tokens"`
	DurationMs  int64  `json:"duration_ms"`
	Model       string `json:"model"`
	Forced      bool   `json:"forced"`
}

// ResearchResult is the terminal artifact of a query, created at most once.
type ResearchResult struct {
	QueryID     string         `json:"query_id"`
	Answer      string         `json:"answer"`
	Confidence  float64        `json:"confidence"`
	Citations   []Citation     `json:"citations"`
	Trace       []Iteration    `json:"trace"`
	Metadata    ResultMetadata `json:"metadata"`
	CompletedAt time.Time      `json:"completed_at"`
}
