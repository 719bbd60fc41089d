package activities

import (
	"context"
	"fmt"

	"github.com/inquest-ai/orchestrator/internal/metrics"
	"github.com/inquest-ai/orchestrator/internal/models"
)

// LoadQueryState loads the query record and its iteration ledger. The ledger
// length is the source of truth for the next iteration number.
func (a *Activities) LoadQueryState(ctx context.Context, queryID string) (QueryStateResult, error) {
	query, err := a.store.GetQuery(ctx, queryID)
	if err != nil {
		return QueryStateResult{}, fmt.Errorf("load query %s: %w", queryID, err)
	}
	iterations, err := a.store.ListIterations(ctx, queryID)
	if err != nil {
		return QueryStateResult{}, fmt.Errorf("load iterations for %s: %w", queryID, err)
	}
	return QueryStateResult{
		Query:         *query,
		Iterations:    iterations,
		MaxIterations: a.research.MaxIterations,
	}, nil
}

// CreateIteration appends one iteration to the ledger.
func (a *Activities) CreateIteration(ctx context.Context, in CreateIterationInput) error {
	return a.store.AppendIteration(ctx, &in.Iteration)
}

// AttachObservation records a tool observation on its iteration, exactly once.
func (a *Activities) AttachObservation(ctx context.Context, in AttachObservationInput) error {
	return a.store.AttachObservation(ctx, in.QueryID, in.Sequence, in.Observation)
}

// UpdateQueryStatus moves the query along the state machine.
func (a *Activities) UpdateQueryStatus(ctx context.Context, in UpdateStatusInput) error {
	return a.store.UpdateQueryStatus(ctx, in.QueryID, in.Status)
}

// MarkQueryFailed sets status failed with the error message attached.
func (a *Activities) MarkQueryFailed(ctx context.Context, in MarkFailedInput) error {
	if err := a.store.MarkQueryFailed(ctx, in.QueryID, in.Message); err != nil {
		return err
	}
	metrics.QueriesCompleted.WithLabelValues(string(models.StatusFailed)).Inc()
	return nil
}
