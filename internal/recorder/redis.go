package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"llm-tap/internal/config"
	"llm-tap/internal/model"
)

// publishTimeout bounds a single XADD so a slow Redis cannot hold a response open.
const publishTimeout = 5 * time.Second

// StreamAdder is the subset of the Redis client the mirror needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisMirror appends encoded records to a Redis stream.
type RedisMirror struct {
	client StreamAdder
	stream string
	maxLen int64
}

// NewRedisMirror creates a RedisMirror writing to the configured stream.
func NewRedisMirror(client StreamAdder, cfg config.RedisConfig) *RedisMirror {
	return &RedisMirror{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}
}

// Publish adds one stream entry for rec. data is the already encoded record.
func (m *RedisMirror) Publish(ctx context.Context, rec *model.InteractionRecord, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: m.stream,
		Values: map[string]any{
			"record":      string(data),
			"request_id":  rec.RequestID,
			"path":        rec.Path,
			"status_code": rec.StatusCode,
		},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}

	if err := m.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", m.stream, err)
	}
	return nil
}
