// internal/redisx/streams.go
package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Publish appends values to stream, stringifying scalars and JSON-encoding
// everything else. maxLen caps the stream approximately; zero means no cap.
func Publish(ctx context.Context, client *redis.Client, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		s, err := fieldString(v)
		if err != nil {
			return "", fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = s
	}
	args := &redis.XAddArgs{Stream: stream, Values: fields}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return client.XAdd(ctx, args).Result()
}

// PublishJSON publishes data under a single "data" field with a timestamp.
func PublishJSON(ctx context.Context, client *redis.Client, stream string, maxLen int64, event string, data interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return Publish(ctx, client, stream, maxLen, map[string]interface{}{
		"event":     event,
		"data":      string(raw),
		"timestamp": time.Now().Unix(),
	})
}

func fieldString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	case fmt.Stringer:
		return val.String(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
