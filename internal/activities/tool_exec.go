package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/inquest-ai/orchestrator/internal/models"
)

// ExecuteTool routes one tool invocation through the dispatcher. It never
// returns an error: failures (including unknown tools) come back inside the
// result envelope and are fed to the next reasoning step as observations.
func (a *Activities) ExecuteTool(ctx context.Context, in ToolExecutionInput) (ToolExecutionResult, error) {
	logger := activity.GetLogger(ctx)

	result := a.dispatcher.Execute(ctx, in.Tool, in.Args)
	a.store.RecordToolExecution(in.QueryID, in.Sequence, result, in.Args)

	out := ToolExecutionResult{
		Result:      result,
		Observation: a.observationText(result),
	}
	if result.Success {
		out.Citations = harvestCitations(result.Output, time.Now().UTC())
	} else {
		logger.Info("tool failed, feeding error back to the loop",
			"query_id", in.QueryID,
			"tool", in.Tool,
			"error", result.Error,
		)
	}
	return out, nil
}

// observationText renders the envelope as conversation input, truncated to
// keep the context window bounded.
func (a *Activities) observationText(result models.ToolResult) string {
	limit := a.research.MaxObservationChars
	if limit <= 0 {
		limit = 4000
	}
	if !result.Success {
		return truncateText(fmt.Sprintf("Tool %s failed: %s", result.Tool, result.Error), limit)
	}
	payload, err := json.Marshal(result.Output)
	if err != nil {
		return truncateText(fmt.Sprintf("Tool %s returned an unencodable payload", result.Tool), limit)
	}
	return truncateText(fmt.Sprintf("Tool %s returned: %s", result.Tool, payload), limit)
}

// harvestCitations walks a tool payload for url/title/source/snippet shapes
// so successful lookups contribute to the final citation list even when the
// model forgets to cite them.
func harvestCitations(payload interface{}, accessedAt time.Time) []models.Citation {
	var out []models.Citation
	walkPayload(payload, func(m map[string]interface{}) {
		url, _ := stringField(m, "url", "href", "link")
		source, _ := stringField(m, "source", "title", "name")
		if url == "" && source == "" {
			return
		}
		snippet, _ := stringField(m, "snippet", "description", "content")
		out = append(out, models.Citation{
			Source:     source,
			URL:        url,
			Snippet:    truncateText(snippet, 300),
			AccessedAt: accessedAt,
		})
	})
	return out
}

func walkPayload(v interface{}, visit func(map[string]interface{})) {
	switch t := v.(type) {
	case map[string]interface{}:
		visit(t)
		for _, child := range t {
			walkPayload(child, visit)
		}
	case []interface{}:
		for _, child := range t {
			walkPayload(child, visit)
		}
	default:
		// Typed payloads (structs) round-trip through JSON so the walker only
		// ever sees maps and slices.
		b, err := json.Marshal(v)
		if err != nil || len(b) == 0 || (b[0] != '{' && b[0] != '[') {
			return
		}
		var generic interface{}
		if err := json.Unmarshal(b, &generic); err != nil {
			return
		}
		switch generic.(type) {
		case map[string]interface{}, []interface{}:
			walkPayload(generic, visit)
		}
	}
}

func stringField(m map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
