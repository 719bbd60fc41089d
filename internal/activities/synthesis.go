package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/inquest-ai/orchestrator/internal/llm"
	"github.com/inquest-ai/orchestrator/internal/metrics"
	"github.com/inquest-ai/orchestrator/internal/models"
	"github.com/inquest-ai/orchestrator/internal/parser"
)

const fallbackAnswerLimit = 2000

// Synthesize assembles the ResearchResult. Normal path: the loop already has
// a final decision and this only assembles and deduplicates. Forced path
// (iteration cap hit): one more model call over the accumulated observations,
// with a lower confidence and an instruction to acknowledge gaps; if even
// that fails to parse, the raw text is truncated into the answer. Synthesis
// never fails once triggered.
func (a *Activities) Synthesize(ctx context.Context, in SynthesisInput) (models.ResearchResult, error) {
	logger := activity.GetLogger(ctx)

	answer := in.Answer
	confidence := in.Confidence
	citations := in.Citations
	tokens := in.TokensUsed
	model := in.Model

	if in.Forced {
		answer, confidence, citations, tokens, model = a.forcedSynthesis(ctx, in)
	} else if confidence == 0 {
		confidence = a.normalConfidence()
	}

	maxCitations := a.research.MaxCitations
	if maxCitations <= 0 {
		maxCitations = 20
	}

	result := models.ResearchResult{
		QueryID:    in.Query.ID,
		Answer:     answer,
		Confidence: confidence,
		Citations:  models.DedupCitations(citations, maxCitations),
		Trace:      in.Iterations,
		Metadata: models.ResultMetadata{
			Iterations:  len(in.Iterations),
			ToolCalls:   in.ToolCalls,
			TotalTokens: tokens,
			DurationMs:  time.Since(in.StartedAt).Milliseconds(),
			Model:       model,
			Forced:      in.Forced,
		},
		CompletedAt: time.Now().UTC(),
	}

	if err := a.store.SaveResult(ctx, &result); err != nil {
		// The result object still reaches the workflow; persistence problems
		// must not leave the query without an answer.
		logger.Error("failed to persist research result",
			"query_id", in.Query.ID,
			"error", err,
		)
	}

	status := models.StatusCompleted
	if in.Forced {
		status = models.StatusMaxIterations
	}
	metrics.QueriesCompleted.WithLabelValues(string(status)).Inc()
	metrics.QueryDuration.Observe(time.Since(in.StartedAt).Seconds())
	metrics.IterationsPerQuery.Observe(float64(len(in.Iterations)))
	return result, nil
}

// forcedSynthesis builds the best-effort answer. Every failure degrades:
// model error or unparseable output falls back to a truncated text blob.
func (a *Activities) forcedSynthesis(ctx context.Context, in SynthesisInput) (string, float64, []models.Citation, int, string) {
	logger := activity.GetLogger(ctx)
	tokens := in.TokensUsed
	citations := in.Citations
	confidence := a.forcedConfidence()

	completion, err := a.llm.Complete(ctx, llm.Request{
		Messages:    forcedSynthesisPrompt(in.Query.Question, in.Iterations),
		Temperature: 0.3,
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("synthesis", "false").Inc()
		logger.Warn("forced synthesis model call failed, degrading to observation digest",
			"query_id", in.Query.ID,
			"error", err,
		)
		return observationDigest(in.Iterations), confidence, citations, tokens, in.Model
	}
	metrics.LLMCalls.WithLabelValues("synthesis", "true").Inc()
	tokens += completion.TotalTokens()

	decision, perr := parser.Parse(completion.Text)
	if perr != nil || decision.Kind != parser.DecisionFinal || decision.Answer == "" {
		logger.Warn("forced synthesis output unparseable, using raw text",
			"query_id", in.Query.ID,
		)
		return truncateText(strings.TrimSpace(completion.Text), fallbackAnswerLimit), confidence, citations, tokens, completion.Model
	}

	citations = append(citations, decision.Citations...)
	// The forced confidence cap signals reduced reliability even when the
	// model is optimistic about its own summary.
	if decision.Confidence > 0 && decision.Confidence < confidence {
		confidence = decision.Confidence
	}
	return decision.Answer, confidence, citations, tokens, completion.Model
}

// observationDigest is the last-resort answer when no model call is possible.
func observationDigest(iterations []models.Iteration) string {
	var b strings.Builder
	b.WriteString("Research was cut short before a conclusive answer. Findings so far:\n")
	n := 0
	for _, it := range iterations {
		if it.Observation == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", truncateText(it.Observation, 300))
		n++
	}
	if n == 0 {
		b.WriteString("- no observations were collected\n")
	}
	return truncateText(b.String(), fallbackAnswerLimit)
}

func (a *Activities) normalConfidence() float64 {
	if a.research.NormalConfidence > 0 {
		return a.research.NormalConfidence
	}
	return 0.8
}

func (a *Activities) forcedConfidence() float64 {
	if a.research.ForcedConfidence > 0 {
		return a.research.ForcedConfidence
	}
	return 0.6
}
