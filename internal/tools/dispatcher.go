package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/metrics"
	"github.com/inquest-ai/orchestrator/internal/models"
)

const argSummaryLimit = 200

// Dispatcher executes tools from a registry and always returns a result
// envelope. An unknown tool name or a tool error is a failed ToolResult, not
// an error: the loop feeds it back as an observation.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. A zero timeout disables the per-call
// deadline.
func NewDispatcher(registry *Registry, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger, timeout: timeout}
}

// Execute invokes the named tool. It never returns an error.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]interface{}) models.ToolResult {
	start := time.Now()

	tool, ok := d.registry.Get(name)
	if !ok {
		result := models.ToolResult{
			Tool:     name,
			Success:  false,
			Error:    fmt.Sprintf("Unknown tool: %s", name),
			Duration: time.Since(start).Milliseconds(),
		}
		d.audit(name, args, result)
		return result
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	output, err := tool.Invoke(ctx, args)
	result := models.ToolResult{
		Tool:     name,
		Duration: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
	} else {
		result.Success = true
		result.Output = output
	}
	d.audit(name, args, result)
	return result
}

func (d *Dispatcher) audit(name string, args map[string]interface{}, result models.ToolResult) {
	d.logger.Info("tool invoked",
		zap.String("tool", name),
		zap.String("args", summarizeArgs(args)),
		zap.Bool("success", result.Success),
		zap.Int64("duration_ms", result.Duration),
	)
	metrics.ToolInvocations.WithLabelValues(name, fmt.Sprintf("%t", result.Success)).Inc()
	metrics.ToolDuration.WithLabelValues(name).Observe(float64(result.Duration) / 1000.0)
}

// summarizeArgs renders args as truncated JSON for audit logs.
func summarizeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	s := string(b)
	if len(s) > argSummaryLimit {
		s = s[:argSummaryLimit] + "..."
	}
	return s
}
