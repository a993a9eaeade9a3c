// internal/notify/stream.go
package notify

import (
	"context"

	"swimdesk/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Stream appends events to a Redis stream for downstream consumers.
type Stream struct {
	client *redis.Client
	name   string
	maxLen int64
	logger *zap.Logger
}

func NewStream(client *redis.Client, name string, maxLen int64, logger *zap.Logger) *Stream {
	return &Stream{client: client, name: name, maxLen: maxLen, logger: logger}
}

func (s *Stream) Notify(ctx context.Context, event Event, payload Payload) {
	id, err := redisx.PublishJSON(ctx, s.client, s.name, s.maxLen, string(event), payload)
	if err != nil {
		s.logger.Warn("Stream publish failed",
			zap.String("stream", s.name),
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Event published to stream",
		zap.String("stream", s.name),
		zap.String("message_id", id),
	)
}
