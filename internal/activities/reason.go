package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/inquest-ai/orchestrator/internal/llm"
	"github.com/inquest-ai/orchestrator/internal/metrics"
	"github.com/inquest-ai/orchestrator/internal/parser"
)

// Reason asks the model for the next step and parses the response. On a
// parse failure it re-prompts once with an explicit structured-output
// instruction; if that also fails the result is marked Malformed and the
// workflow escalates to query status failed. Transport errors propagate so
// Temporal's retry policy can handle them.
func (a *Activities) Reason(ctx context.Context, in ReasonInput) (ReasonResult, error) {
	logger := activity.GetLogger(ctx)

	messages := buildConversation(in, a.registry.Describe())

	completion, err := a.llm.Complete(ctx, llm.Request{Messages: messages, Temperature: 0.2})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("reason", "false").Inc()
		return ReasonResult{}, fmt.Errorf("model call: %w", err)
	}
	metrics.LLMCalls.WithLabelValues("reason", "true").Inc()
	metrics.LLMTokens.Observe(float64(completion.TotalTokens()))
	tokens := completion.TotalTokens()

	decision, perr := parseCompletion(completion.Text)
	if perr == nil {
		return decisionResult(decision, tokens, completion.Model), nil
	}

	// Single bounded re-prompt, never recursion: one strict-format retry and
	// then the failure is escalated.
	logger.Warn("model output unparseable, re-prompting once",
		"query_id", in.QueryID,
		"reason", perr.Error(),
	)
	metrics.ParseFailures.Inc()

	retryMessages := append(messages,
		llm.Message{Role: "assistant", Content: completion.Text},
		llm.Message{Role: "user", Content: strictFormatReminder},
	)
	retry, err := a.llm.Complete(ctx, llm.Request{Messages: retryMessages, Temperature: 0})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("reason_retry", "false").Inc()
		return ReasonResult{}, fmt.Errorf("model call (format retry): %w", err)
	}
	metrics.LLMCalls.WithLabelValues("reason_retry", "true").Inc()
	tokens += retry.TotalTokens()

	decision, perr = parseCompletion(retry.Text)
	if perr != nil {
		metrics.ParseFailures.Inc()
		return ReasonResult{
			Malformed:  true,
			RawOutput:  truncateText(retry.Text, 500),
			TokensUsed: tokens,
			Model:      retry.Model,
		}, nil
	}
	return decisionResult(decision, tokens, retry.Model), nil
}

func parseCompletion(text string) (*parser.Decision, error) {
	decision, err := parser.Parse(text)
	if err != nil {
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, err
	}
	return decision, nil
}

func decisionResult(d *parser.Decision, tokens int, model string) ReasonResult {
	return ReasonResult{
		Kind:       string(d.Kind),
		Thought:    d.Thought,
		Tool:       d.Tool,
		ToolInput:  d.ToolInput,
		Answer:     d.Answer,
		Confidence: d.Confidence,
		Citations:  d.Citations,
		TokensUsed: tokens,
		Model:      model,
	}
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
