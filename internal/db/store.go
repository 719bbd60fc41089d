package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/models"
)

// ErrNotFound is returned when a query, iteration, or result does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status update would violate the
// query state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store persists the three collections backing the loop: queries,
// iterations, and research results. All methods are synchronous; the loop
// reads its own writes (the iteration list is the source of truth for the
// next sequence number).
type Store struct {
	client *Client
	logger *zap.Logger
}

func NewStore(client *Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// CreateQuery inserts a new query with status pending.
func (s *Store) CreateQuery(ctx context.Context, q *models.Query) error {
	row := QueryRow{
		ID:        q.ID,
		Question:  q.Question,
		Status:    string(q.Status),
		CreatedAt: q.CreatedAt,
		UpdatedAt: q.UpdatedAt,
	}
	if q.Context != nil {
		b, err := json.Marshal(q.Context)
		if err != nil {
			return fmt.Errorf("marshal query context: %w", err)
		}
		var m JSONB
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("convert query context: %w", err)
		}
		row.Context = m
	}
	_, err := s.client.db.NamedExecContext(ctx, `
		INSERT INTO queries (id, question, context, status, created_at, updated_at)
		VALUES (:id, :question, :context, :status, :created_at, :updated_at)`,
		&row)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// GetQuery loads one query by id.
func (s *Store) GetQuery(ctx context.Context, id string) (*models.Query, error) {
	var row QueryRow
	err := s.client.db.GetContext(ctx, &row, `
		SELECT id, question, context, status, error_message, created_at, updated_at
		FROM queries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select query: %w", err)
	}
	return queryFromRow(&row)
}

// UpdateQueryStatus moves a query along the state machine. The transition is
// validated against the current status; the single-writer discipline (one
// workflow execution per query) makes the read-then-write safe.
func (s *Store) UpdateQueryStatus(ctx context.Context, id string, next models.QueryStatus) error {
	var current string
	err := s.client.db.GetContext(ctx, &current, `SELECT status FROM queries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select query status: %w", err)
	}
	if models.QueryStatus(current) == next {
		return nil
	}
	if !models.QueryStatus(current).CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	res, err := s.client.db.ExecContext(ctx, `
		UPDATE queries SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(next), time.Now().UTC(), id, current)
	if err != nil {
		return fmt.Errorf("update query status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: concurrent status change on query %s", ErrInvalidTransition, id)
	}
	return nil
}

// MarkQueryFailed sets status failed and records the error message. Failing
// is allowed from any non-terminal state.
func (s *Store) MarkQueryFailed(ctx context.Context, id, message string) error {
	res, err := s.client.db.ExecContext(ctx, `
		UPDATE queries SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status NOT IN ($5, $6, $7)`,
		string(models.StatusFailed), message, time.Now().UTC(), id,
		string(models.StatusCompleted), string(models.StatusFailed), string(models.StatusMaxIterations))
	if err != nil {
		return fmt.Errorf("mark query failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendIteration inserts one iteration. The (query_id, sequence) primary key
// rejects duplicates, keeping the ledger dense and append-only.
func (s *Store) AppendIteration(ctx context.Context, it *models.Iteration) error {
	row := IterationRow{
		QueryID:   it.QueryID,
		Sequence:  it.Sequence,
		Thought:   it.Thought,
		CreatedAt: it.CreatedAt,
	}
	if it.Action != nil {
		row.ActionTool = &it.Action.Tool
		row.ActionInput = JSONB(it.Action.Input)
	}
	_, err := s.client.db.NamedExecContext(ctx, `
		INSERT INTO iterations (query_id, sequence, thought, action_tool, action_input, created_at)
		VALUES (:query_id, :sequence, :thought, :action_tool, :action_input, :created_at)`,
		&row)
	if err != nil {
		return fmt.Errorf("insert iteration %d for query %s: %w", it.Sequence, it.QueryID, err)
	}
	return nil
}

// AttachObservation fills in the observation of an iteration exactly once.
func (s *Store) AttachObservation(ctx context.Context, queryID string, sequence int, observation string) error {
	res, err := s.client.db.ExecContext(ctx, `
		UPDATE iterations SET observation = $1
		WHERE query_id = $2 AND sequence = $3 AND observation IS NULL`,
		observation, queryID, sequence)
	if err != nil {
		return fmt.Errorf("attach observation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("iteration %d for query %s missing or already observed: %w", sequence, queryID, ErrNotFound)
	}
	return nil
}

// ListIterations returns the ordered iteration ledger for a query.
func (s *Store) ListIterations(ctx context.Context, queryID string) ([]models.Iteration, error) {
	var rows []IterationRow
	err := s.client.db.SelectContext(ctx, &rows, `
		SELECT query_id, sequence, thought, action_tool, action_input, observation, created_at
		FROM iterations WHERE query_id = $1 ORDER BY sequence`, queryID)
	if err != nil {
		return nil, fmt.Errorf("select iterations: %w", err)
	}
	out := make([]models.Iteration, 0, len(rows))
	for _, r := range rows {
		it := models.Iteration{
			QueryID:   r.QueryID,
			Sequence:  r.Sequence,
			Thought:   r.Thought,
			CreatedAt: r.CreatedAt,
		}
		if r.ActionTool != nil {
			it.Action = &models.Action{Tool: *r.ActionTool, Input: map[string]interface{}(r.ActionInput)}
		}
		if r.Observation != nil {
			it.Observation = *r.Observation
		}
		out = append(out, it)
	}
	return out, nil
}

// SaveResult persists the terminal artifact. ON CONFLICT DO NOTHING keeps the
// at-most-once invariant under workflow retries.
func (s *Store) SaveResult(ctx context.Context, r *models.ResearchResult) error {
	citations, err := json.Marshal(r.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	trace, err := json.Marshal(r.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal result metadata: %w", err)
	}
	var metaMap JSONB
	if err := json.Unmarshal(meta, &metaMap); err != nil {
		return fmt.Errorf("convert result metadata: %w", err)
	}

	row := ResearchResultRow{
		QueryID:     r.QueryID,
		Answer:      r.Answer,
		Confidence:  r.Confidence,
		Citations:   citations,
		Trace:       trace,
		Metadata:    metaMap,
		CompletedAt: r.CompletedAt,
	}
	_, err = s.client.db.NamedExecContext(ctx, `
		INSERT INTO research_results (query_id, answer, confidence, citations, trace, metadata, completed_at)
		VALUES (:query_id, :answer, :confidence, :citations, :trace, :metadata, :completed_at)
		ON CONFLICT (query_id) DO NOTHING`,
		&row)
	if err != nil {
		return fmt.Errorf("insert research result: %w", err)
	}
	return nil
}

// GetResult loads the research result for a query.
func (s *Store) GetResult(ctx context.Context, queryID string) (*models.ResearchResult, error) {
	var row ResearchResultRow
	err := s.client.db.GetContext(ctx, &row, `
		SELECT query_id, answer, confidence, citations, trace, metadata, completed_at
		FROM research_results WHERE query_id = $1`, queryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select research result: %w", err)
	}

	result := models.ResearchResult{
		QueryID:     row.QueryID,
		Answer:      row.Answer,
		Confidence:  row.Confidence,
		CompletedAt: row.CompletedAt,
	}
	if len(row.Citations) > 0 {
		if err := json.Unmarshal(row.Citations, &result.Citations); err != nil {
			return nil, fmt.Errorf("decode citations: %w", err)
		}
	}
	if len(row.Trace) > 0 {
		if err := json.Unmarshal(row.Trace, &result.Trace); err != nil {
			return nil, fmt.Errorf("decode trace: %w", err)
		}
	}
	if row.Metadata != nil {
		b, _ := json.Marshal(row.Metadata)
		if err := json.Unmarshal(b, &result.Metadata); err != nil {
			return nil, fmt.Errorf("decode result metadata: %w", err)
		}
	}
	return &result, nil
}

// RecordToolExecution queues an audit row for a tool invocation. Best-effort:
// queue overflow is logged, never surfaced to the loop.
func (s *Store) RecordToolExecution(queryID string, sequence int, result models.ToolResult, args map[string]interface{}) {
	output := ""
	if result.Output != nil {
		if b, err := json.Marshal(result.Output); err == nil {
			output = string(b)
		}
	}
	row := &ToolExecutionRow{
		ID:         uuid.New().String(),
		QueryID:    queryID,
		Sequence:   sequence,
		ToolName:   result.Tool,
		InputArgs:  JSONB(args),
		Output:     output,
		Success:    result.Success,
		Error:      result.Error,
		DurationMs: result.Duration,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.client.QueueWrite(WriteTypeToolExecution, row, nil); err != nil {
		s.logger.Warn("dropping tool execution audit write", zap.Error(err))
	}
}

func queryFromRow(row *QueryRow) (*models.Query, error) {
	q := models.Query{
		ID:        row.ID,
		Question:  row.Question,
		Status:    models.QueryStatus(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.ErrorMessage != nil {
		q.ErrorMessage = *row.ErrorMessage
	}
	if row.Context != nil {
		b, _ := json.Marshal(row.Context)
		var qc models.QueryContext
		if err := json.Unmarshal(b, &qc); err != nil {
			return nil, fmt.Errorf("decode query context: %w", err)
		}
		q.Context = &qc
	}
	return &q, nil
}
