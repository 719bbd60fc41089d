package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/inquest-ai/orchestrator/internal/streaming"
)

// EmitResearchUpdate publishes one progress snapshot to the in-process stream
// manager and mirrors it to Redis. Best-effort by contract: this activity
// always returns nil so delivery problems can never stall the loop.
func (a *Activities) EmitResearchUpdate(ctx context.Context, in EmitUpdateInput) error {
	logger := activity.GetLogger(ctx)
	logger.Debug("research event",
		"query_id", in.QueryID,
		"type", in.Type,
		"phase", in.Phase,
		"tool", in.Tool,
		"iteration", in.Iteration,
	)

	evt := streaming.Event{
		QueryID:   in.QueryID,
		Type:      in.Type,
		Phase:     in.Phase,
		Tool:      in.Tool,
		Message:   in.Message,
		Iteration: in.Iteration,
		Timestamp: in.Timestamp,
	}
	a.stream.Publish(in.QueryID, evt)
	if a.mirror != nil {
		a.mirror.Publish(evt)
	}
	return nil
}
