// Package workflows hosts the research loop controller. One workflow
// execution drives one query through reason-act-observe cycles until a final
// answer, a fatal parse failure, or the iteration cap.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/inquest-ai/orchestrator/internal/activities"
	"github.com/inquest-ai/orchestrator/internal/models"
	"github.com/inquest-ai/orchestrator/internal/parser"
	"github.com/inquest-ai/orchestrator/internal/streaming"
)

const syntheticObservation = "No action was taken. Use one of the available tools or produce a final answer."

// ResearchWorkflow is the loop controller. Within one query every step is
// strictly sequential: the next iteration never starts before the previous
// observation is recorded. Across queries, executions run fully in parallel.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchOutput, error) {
	logger := workflow.GetLogger(ctx)
	if input.QueryID == "" {
		return ResearchOutput{}, fmt.Errorf("query id is required")
	}
	logger.Info("research loop starting", "query_id", input.QueryID)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var state activities.QueryStateResult
	if err := workflow.ExecuteActivity(ctx, activities.LoadQueryStateActivity, input.QueryID).Get(ctx, &state); err != nil {
		return ResearchOutput{QueryID: input.QueryID, Status: models.StatusFailed, Error: err.Error()},
			fmt.Errorf("load query state: %w", err)
	}

	// Cap precedence: per-query context override, then the deployment config,
	// then the built-in default.
	maxIterations := DefaultMaxIterations
	if state.MaxIterations > 0 {
		maxIterations = state.MaxIterations
	}
	if state.Query.Context != nil && state.Query.Context.MaxIterations > 0 {
		maxIterations = state.Query.Context.MaxIterations
	}

	iterations := state.Iterations
	out := ResearchOutput{QueryID: input.QueryID, Iterations: len(iterations)}
	var citations []models.Citation
	var model string

	emit(ctx, activities.EmitUpdateInput{
		QueryID:   input.QueryID,
		Type:      streaming.EventQueryStarted,
		Phase:     string(models.StatusPending),
		Timestamp: workflow.Now(ctx),
	})

	for {
		next := len(iterations) + 1

		// Budget exhaustion is a designed terminal path, not an error: the
		// query still gets a best-effort answer through forced synthesis.
		if next > maxIterations {
			logger.Info("iteration cap reached, forcing synthesis",
				"query_id", input.QueryID,
				"cap", maxIterations,
			)
			if err := setStatus(ctx, input.QueryID, models.StatusMaxIterations); err != nil {
				return failQuery(ctx, out, err.Error())
			}
			out.Status = models.StatusMaxIterations
			return synthesize(ctx, out, iterations, activities.SynthesisInput{
				Query:      state.Query,
				Iterations: iterations,
				Forced:     true,
				Citations:  citations,
				TokensUsed: out.TokensUsed,
				ToolCalls:  out.ToolCalls,
				Model:      model,
				StartedAt:  state.Query.CreatedAt,
			})
		}

		if err := setStatus(ctx, input.QueryID, models.StatusReasoning); err != nil {
			return failQuery(ctx, out, err.Error())
		}
		emit(ctx, activities.EmitUpdateInput{
			QueryID:   input.QueryID,
			Type:      streaming.EventPhaseChanged,
			Phase:     string(models.StatusReasoning),
			Iteration: next,
			Timestamp: workflow.Now(ctx),
		})

		var decision activities.ReasonResult
		err := workflow.ExecuteActivity(ctx, activities.ReasonActivity, activities.ReasonInput{
			QueryID:    input.QueryID,
			Question:   state.Query.Question,
			Context:    state.Query.Context,
			Iterations: iterations,
		}).Get(ctx, &decision)
		if err != nil {
			return failQuery(ctx, out, fmt.Sprintf("reasoning failed: %v", err))
		}
		out.TokensUsed += decision.TokensUsed
		if decision.Model != "" {
			model = decision.Model
		}

		// Repeated parse failure is fatal for the query; the single re-prompt
		// already happened inside the activity.
		if decision.Malformed {
			return failQuery(ctx, out, "model produced unparseable output after re-prompt")
		}

		iteration := models.Iteration{
			QueryID:   input.QueryID,
			Sequence:  next,
			Thought:   decision.Thought,
			CreatedAt: workflow.Now(ctx).UTC(),
		}
		if decision.Kind == string(parser.DecisionToolCall) {
			iteration.Action = &models.Action{Tool: decision.Tool, Input: decision.ToolInput}
		}
		if err := workflow.ExecuteActivity(ctx, activities.CreateIterationActivity, activities.CreateIterationInput{
			Iteration: iteration,
		}).Get(ctx, nil); err != nil {
			return failQuery(ctx, out, fmt.Sprintf("append iteration %d: %v", next, err))
		}
		out.Iterations = next

		switch decision.Kind {
		case string(parser.DecisionFinal):
			citations = append(citations, decision.Citations...)
			if err := setStatus(ctx, input.QueryID, models.StatusSynthesizing); err != nil {
				return failQuery(ctx, out, err.Error())
			}
			emit(ctx, activities.EmitUpdateInput{
				QueryID:   input.QueryID,
				Type:      streaming.EventSynthesis,
				Phase:     string(models.StatusSynthesizing),
				Iteration: next,
				Timestamp: workflow.Now(ctx),
			})
			iterations = append(iterations, iteration)
			out.Status = models.StatusCompleted
			out.Answer = decision.Answer
			out.Confidence = decision.Confidence
			return synthesize(ctx, out, iterations, activities.SynthesisInput{
				Query:      state.Query,
				Iterations: iterations,
				Forced:     false,
				Answer:     decision.Answer,
				Confidence: decision.Confidence,
				Citations:  citations,
				TokensUsed: out.TokensUsed,
				ToolCalls:  out.ToolCalls,
				Model:      model,
				StartedAt:  state.Query.CreatedAt,
			})

		case string(parser.DecisionToolCall):
			if err := setStatus(ctx, input.QueryID, models.StatusActing); err != nil {
				return failQuery(ctx, out, err.Error())
			}
			emit(ctx, activities.EmitUpdateInput{
				QueryID:   input.QueryID,
				Type:      streaming.EventToolInvoked,
				Phase:     string(models.StatusActing),
				Tool:      decision.Tool,
				Iteration: next,
				Timestamp: workflow.Now(ctx),
			})

			// The controller suspends here; it resumes when the observation
			// message arrives. Tool failures come back inside the envelope.
			var toolOut activities.ToolExecutionResult
			if err := workflow.ExecuteActivity(ctx, activities.ExecuteToolActivity, activities.ToolExecutionInput{
				QueryID:  input.QueryID,
				Sequence: next,
				Tool:     decision.Tool,
				Args:     decision.ToolInput,
			}).Get(ctx, &toolOut); err != nil {
				return failQuery(ctx, out, fmt.Sprintf("tool dispatch for iteration %d: %v", next, err))
			}
			out.ToolCalls++
			citations = append(citations, toolOut.Citations...)

			if err := setStatus(ctx, input.QueryID, models.StatusObserving); err != nil {
				return failQuery(ctx, out, err.Error())
			}
			if err := workflow.ExecuteActivity(ctx, activities.AttachObservationActivity, activities.AttachObservationInput{
				QueryID:     input.QueryID,
				Sequence:    next,
				Observation: toolOut.Observation,
			}).Get(ctx, nil); err != nil {
				return failQuery(ctx, out, fmt.Sprintf("attach observation %d: %v", next, err))
			}
			emit(ctx, activities.EmitUpdateInput{
				QueryID:   input.QueryID,
				Type:      streaming.EventObservation,
				Phase:     string(models.StatusObserving),
				Tool:      decision.Tool,
				Message:   snippet(toolOut.Observation, 200),
				Iteration: next,
				Timestamp: workflow.Now(ctx),
			})

			iteration.Observation = toolOut.Observation
			iterations = append(iterations, iteration)

		default:
			// Parseable but inert: neither an action nor a final answer. Feed
			// a synthetic observation back and let the model try again.
			if err := workflow.ExecuteActivity(ctx, activities.AttachObservationActivity, activities.AttachObservationInput{
				QueryID:     input.QueryID,
				Sequence:    next,
				Observation: syntheticObservation,
			}).Get(ctx, nil); err != nil {
				return failQuery(ctx, out, fmt.Sprintf("attach synthetic observation %d: %v", next, err))
			}
			iteration.Observation = syntheticObservation
			iterations = append(iterations, iteration)
		}
	}
}

// synthesize runs the synthesis activity and finalizes the query. Synthesis
// itself never fails; only persistence of the completed status can.
func synthesize(ctx workflow.Context, out ResearchOutput, iterations []models.Iteration, in activities.SynthesisInput) (ResearchOutput, error) {
	logger := workflow.GetLogger(ctx)

	var result models.ResearchResult
	if err := workflow.ExecuteActivity(ctx, activities.SynthesizeActivity, in).Get(ctx, &result); err != nil {
		return failQuery(ctx, out, fmt.Sprintf("synthesis failed: %v", err))
	}
	out.Answer = result.Answer
	out.Confidence = result.Confidence
	out.Citations = result.Citations
	out.TokensUsed = result.Metadata.TotalTokens

	if out.Status == models.StatusCompleted {
		if err := setStatus(ctx, out.QueryID, models.StatusCompleted); err != nil {
			return failQuery(ctx, out, err.Error())
		}
	}

	emit(ctx, activities.EmitUpdateInput{
		QueryID:   out.QueryID,
		Type:      streaming.EventQueryCompleted,
		Phase:     string(out.Status),
		Iteration: len(iterations),
		Timestamp: workflow.Now(ctx),
	})
	logger.Info("research loop finished",
		"query_id", out.QueryID,
		"status", string(out.Status),
		"iterations", len(iterations),
		"tool_calls", out.ToolCalls,
		"tokens", out.TokensUsed,
	)
	return out, nil
}

// failQuery records the fatal error on the query and completes the workflow
// with a terminal output. The workflow itself succeeds: the failure is query
// state, visible through the status endpoint.
func failQuery(ctx workflow.Context, out ResearchOutput, message string) (ResearchOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Error("research loop failed", "query_id", out.QueryID, "error", message)

	markCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	if err := workflow.ExecuteActivity(markCtx, activities.MarkQueryFailedActivity, activities.MarkFailedInput{
		QueryID: out.QueryID,
		Message: message,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to mark query failed", "query_id", out.QueryID, "error", err)
	}

	emit(ctx, activities.EmitUpdateInput{
		QueryID:   out.QueryID,
		Type:      streaming.EventQueryFailed,
		Phase:     string(models.StatusFailed),
		Message:   message,
		Timestamp: workflow.Now(ctx),
	})

	out.Status = models.StatusFailed
	out.Error = message
	return out, nil
}

func setStatus(ctx workflow.Context, queryID string, status models.QueryStatus) error {
	return workflow.ExecuteActivity(ctx, activities.UpdateQueryStatusActivity, activities.UpdateStatusInput{
		QueryID: queryID,
		Status:  status,
	}).Get(ctx, nil)
}

// emit publishes a progress snapshot, fire-and-forget: one attempt, short
// timeout, errors ignored.
func emit(ctx workflow.Context, in activities.EmitUpdateInput) {
	emitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(emitCtx, activities.EmitResearchUpdateActivity, in).Get(ctx, nil)
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
