package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// QueryRow is one research query record.
type QueryRow struct {
	ID           string    `db:"id"`
	Question     string    `db:"question"`
	Context      JSONB     `db:"context"`
	Status       string    `db:"status"`
	ErrorMessage *string   `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// IterationRow is one reasoning cycle. Sequence is 1-based and dense per query.
type IterationRow struct {
	QueryID     string    `db:"query_id"`
	Sequence    int       `db:"sequence"`
	Thought     string    `db:"thought"`
	ActionTool  *string   `db:"action_tool"`
	ActionInput JSONB     `db:"action_input"`
	Observation *string   `db:"observation"`
	CreatedAt   time.Time `db:"created_at"`
}

// ResearchResultRow is the terminal artifact of a query.
type ResearchResultRow struct {
	QueryID     string    `db:"query_id"`
	Answer      string    `db:"answer"`
	Confidence  float64   `db:"confidence"`
	Citations   []byte    `db:"citations"` // JSON array
	Trace       []byte    `db:"trace"`     // JSON array
	Metadata    JSONB     `db:"metadata"`
	CompletedAt time.Time `db:"completed_at"`
}

// ToolExecutionRow is an audit record for one tool invocation. Written
// through the async queue; losing one under load is acceptable.
type ToolExecutionRow struct {
	ID         string    `db:"id"`
	QueryID    string    `db:"query_id"`
	Sequence   int       `db:"sequence"`
	ToolName   string    `db:"tool_name"`
	InputArgs  JSONB     `db:"input_args"`
	Output     string    `db:"output"`
	Success    bool      `db:"success"`
	Error      string    `db:"error"`
	DurationMs int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}
