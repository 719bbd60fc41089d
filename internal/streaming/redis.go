package streaming

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamKeyPrefix = "research:events:"
	streamMaxLen    = 1000
	publishTimeout  = 2 * time.Second
)

// RedisMirror copies every published event to a capped Redis Stream so
// external consumers survive process restarts. Strictly best-effort: publish
// failures are logged and dropped.
type RedisMirror struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisMirror(rdb *redis.Client, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{rdb: rdb, logger: logger}
}

// Publish appends the event to the query's stream with approximate trimming.
func (m *RedisMirror) Publish(evt Event) {
	if m == nil || m.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKeyPrefix + evt.QueryID,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":      evt.Type,
			"phase":     evt.Phase,
			"tool":      evt.Tool,
			"message":   evt.Message,
			"iteration": evt.Iteration,
			"timestamp": evt.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":   string(evt.Marshal()),
		},
	}).Err()
	if err != nil {
		m.logger.Debug("redis event mirror failed",
			zap.String("query_id", evt.QueryID),
			zap.Error(err),
		)
	}
}
