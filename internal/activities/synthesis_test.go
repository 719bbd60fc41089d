package activities

import (
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/inquest-ai/orchestrator/internal/llm"
	"github.com/inquest-ai/orchestrator/internal/models"
)

func executeSynthesize(t *testing.T, acts *Activities, in SynthesisInput) models.ResearchResult {
	t.Helper()
	env := (&testsuite.WorkflowTestSuite{}).NewTestActivityEnvironment()
	env.RegisterActivity(acts.Synthesize)

	val, err := env.ExecuteActivity(acts.Synthesize, in)
	require.NoError(t, err)
	var out models.ResearchResult
	require.NoError(t, val.Get(&out))
	return out
}

func expectResultInsert(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO research_results").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSynthesizeNormalPath(t *testing.T) {
	model := &scriptedLLM{}
	acts, mock := newTestActivities(t, model)
	expectResultInsert(mock)

	in := SynthesisInput{
		Query:  models.Query{ID: "q1", Question: "What changed?"},
		Answer: "Adoption accelerated.",
		Citations: []models.Citation{
			{Source: "Reuters", URL: "https://example.com/a"},
			{Source: "Reuters again", URL: "https://example.com/a"},
			{Source: "FT", URL: "https://example.com/b"},
		},
		Confidence: 0.9,
		Iterations: []models.Iteration{{QueryID: "q1", Sequence: 1, Thought: "t"}},
		ToolCalls:  1,
		TokensUsed: 120,
		Model:      "test-model",
		StartedAt:  time.Now().Add(-3 * time.Second),
	}
	out := executeSynthesize(t, acts, in)

	assert.Equal(t, "Adoption accelerated.", out.Answer)
	assert.Equal(t, 0.9, out.Confidence)
	// Duplicate URL collapsed, first occurrence kept.
	require.Len(t, out.Citations, 2)
	assert.Equal(t, "Reuters", out.Citations[0].Source)
	assert.Equal(t, 1, out.Metadata.Iterations)
	assert.Equal(t, 120, out.Metadata.TotalTokens)
	assert.False(t, out.Metadata.Forced)
	// No model call on the normal path.
	assert.Empty(t, model.requests)
}

func TestSynthesizeDefaultsConfidence(t *testing.T) {
	acts, mock := newTestActivities(t, &scriptedLLM{})
	expectResultInsert(mock)

	out := executeSynthesize(t, acts, SynthesisInput{
		Query:  models.Query{ID: "q1"},
		Answer: "a",
	})
	assert.Equal(t, 0.8, out.Confidence)
}

func TestSynthesizeForcedCapsConfidence(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Completion{
		completion(`{"type":"final_answer","thought":"partial","finalAnswer":{"answer":"Best effort answer.","confidence":0.95,"citations":[{"source":"Wire","url":"https://example.com/w"}]}}`),
	}}
	acts, mock := newTestActivities(t, model)
	expectResultInsert(mock)

	out := executeSynthesize(t, acts, SynthesisInput{
		Query:  models.Query{ID: "q1", Question: "What changed?"},
		Forced: true,
		Iterations: []models.Iteration{
			{Sequence: 1, Thought: "t", Observation: "Tool echo returned: data"},
		},
		StartedAt: time.Now(),
	})

	assert.Equal(t, "Best effort answer.", out.Answer)
	// The model's optimism is capped by the forced ceiling.
	assert.Equal(t, 0.6, out.Confidence)
	assert.True(t, out.Metadata.Forced)
	require.Len(t, out.Citations, 1)

	// The synthesis prompt carries the accumulated observations.
	require.Len(t, model.requests, 1)
	assert.Contains(t, model.requests[0].Messages[1].Content, "Tool echo returned: data")
}

func TestSynthesizeForcedKeepsLowerModelConfidence(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Completion{
		completion(`{"type":"final_answer","thought":"unsure","finalAnswer":{"answer":"Tentative.","confidence":0.3}}`),
	}}
	acts, mock := newTestActivities(t, model)
	expectResultInsert(mock)

	out := executeSynthesize(t, acts, SynthesisInput{
		Query:     models.Query{ID: "q1"},
		Forced:    true,
		StartedAt: time.Now(),
	})
	assert.Equal(t, 0.3, out.Confidence)
}

// Synthesis degrades, never fails: a dead model still yields an answer built
// from the observations.
func TestSynthesizeForcedModelErrorDigests(t *testing.T) {
	model := &scriptedLLM{errs: []error{fmt.Errorf("connection refused")}}
	acts, mock := newTestActivities(t, model)
	expectResultInsert(mock)

	out := executeSynthesize(t, acts, SynthesisInput{
		Query:  models.Query{ID: "q1"},
		Forced: true,
		Iterations: []models.Iteration{
			{Sequence: 1, Observation: "Tool echo returned: first finding"},
			{Sequence: 2, Observation: ""},
		},
		StartedAt: time.Now(),
	})
	assert.Contains(t, out.Answer, "cut short")
	assert.Contains(t, out.Answer, "first finding")
	assert.Equal(t, 0.6, out.Confidence)
}

func TestSynthesizeForcedUnparseableUsesRawText(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Completion{
		completion("Here is my summary in plain prose, no JSON."),
	}}
	acts, mock := newTestActivities(t, model)
	expectResultInsert(mock)

	out := executeSynthesize(t, acts, SynthesisInput{
		Query:     models.Query{ID: "q1"},
		Forced:    true,
		StartedAt: time.Now(),
	})
	assert.Equal(t, "Here is my summary in plain prose, no JSON.", out.Answer)
	assert.Equal(t, 0.6, out.Confidence)
}

// A persistence failure is logged, not surfaced: the workflow still receives
// the assembled result.
func TestSynthesizeSurvivesSaveFailure(t *testing.T) {
	acts, mock := newTestActivities(t, &scriptedLLM{})
	mock.ExpectExec("INSERT INTO research_results").
		WillReturnError(fmt.Errorf("connection reset"))

	out := executeSynthesize(t, acts, SynthesisInput{
		Query:  models.Query{ID: "q1"},
		Answer: "still delivered",
	})
	assert.Equal(t, "still delivered", out.Answer)
}
