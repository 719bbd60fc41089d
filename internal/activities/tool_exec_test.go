package activities

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/inquest-ai/orchestrator/internal/models"
)

type failingTool struct{}

func (failingTool) Name() string        { return "flaky" }
func (failingTool) Description() string { return "always fails" }
func (failingTool) Invoke(context.Context, map[string]interface{}) (interface{}, error) {
	return nil, fmt.Errorf("upstream returned status 503")
}

func executeTool(t *testing.T, acts *Activities, in ToolExecutionInput) ToolExecutionResult {
	t.Helper()
	env := (&testsuite.WorkflowTestSuite{}).NewTestActivityEnvironment()
	env.RegisterActivity(acts.ExecuteTool)

	val, err := env.ExecuteActivity(acts.ExecuteTool, in)
	require.NoError(t, err)
	var out ToolExecutionResult
	require.NoError(t, val.Get(&out))
	return out
}

func TestExecuteToolSuccess(t *testing.T) {
	acts, _ := newTestActivities(t, &scriptedLLM{})

	out := executeTool(t, acts, ToolExecutionInput{
		QueryID:  "q1",
		Sequence: 1,
		Tool:     "echo",
		Args:     map[string]interface{}{"query": "x"},
	})
	assert.True(t, out.Result.Success)
	assert.Contains(t, out.Observation, "Tool echo returned:")
	assert.Contains(t, out.Observation, `"query":"x"`)
}

// An unknown tool is an observation for the model, never an activity error.
func TestExecuteToolUnknownTool(t *testing.T) {
	acts, _ := newTestActivities(t, &scriptedLLM{})

	out := executeTool(t, acts, ToolExecutionInput{
		QueryID:  "q1",
		Sequence: 1,
		Tool:     "nope",
	})
	assert.False(t, out.Result.Success)
	assert.Equal(t, "Tool nope failed: Unknown tool: nope", out.Observation)
	assert.Empty(t, out.Citations)
}

func TestExecuteToolFailureIsData(t *testing.T) {
	acts, _ := newTestActivities(t, &scriptedLLM{}, failingTool{})

	out := executeTool(t, acts, ToolExecutionInput{
		QueryID:  "q1",
		Sequence: 2,
		Tool:     "flaky",
	})
	assert.False(t, out.Result.Success)
	assert.Equal(t, "Tool flaky failed: upstream returned status 503", out.Observation)
}

func TestObservationTextTruncates(t *testing.T) {
	acts, _ := newTestActivities(t, &scriptedLLM{})

	long := make([]byte, 10000)
	for i := range long {
		long[i] = 'a'
	}
	obs := acts.observationText(models.ToolResult{
		Tool:    "echo",
		Success: true,
		Output:  string(long),
	})
	assert.LessOrEqual(t, len(obs), 4000+3)
}

func TestHarvestCitationsFromMaps(t *testing.T) {
	payload := map[string]interface{}{
		"results": []interface{}{
			map[string]interface{}{"title": "EV adoption", "url": "https://example.com/1", "snippet": "doubled"},
			map[string]interface{}{"title": "No link here"},
			map[string]interface{}{"irrelevant": true},
		},
	}

	got := harvestCitations(payload, time.Now())
	require.Len(t, got, 2)
	assert.Equal(t, "https://example.com/1", got[0].URL)
	assert.Equal(t, "EV adoption", got[0].Source)
	assert.Equal(t, "doubled", got[0].Snippet)
	assert.Equal(t, "No link here", got[1].Source)
}

// Typed payloads round-trip through JSON so struct results contribute too.
func TestHarvestCitationsFromStructs(t *testing.T) {
	type article struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	payload := []article{{Title: "Report", URL: "https://example.com/r"}}

	got := harvestCitations(payload, time.Now())
	require.Len(t, got, 1)
	assert.Equal(t, "https://example.com/r", got[0].URL)
}

func TestHarvestCitationsScalarPayload(t *testing.T) {
	assert.Empty(t, harvestCitations("just text", time.Now()))
	assert.Empty(t, harvestCitations(nil, time.Now()))
}
