package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/sshfeeder/internal/models"
)

// DefaultRedisStream is the stream key used when none is configured.
const DefaultRedisStream = "sshfeeder:measurements"

// RedisSink appends each record to a Redis stream with XADD.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects to redisURL and verifies the connection.
// A positive maxLen caps the stream length approximately.
func NewRedisSink(ctx context.Context, redisURL, stream string, maxLen int64) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}, nil
}

func (s *RedisSink) Write(ctx context.Context, rec models.Record) error {
	payload, err := Payload(rec)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":   MessageID(rec),
			"host": rec.Host,
			"file": rec.File,
			"line": rec.Line,
			"data": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append %s:%d: %w", rec.File, rec.Line, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
