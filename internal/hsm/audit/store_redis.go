package audit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisKey is the list the ledger lives in.
const redisKey = "pqkms:audit:records"

// RedisStore keeps the ledger in a Redis list. Suited to deployments that
// already run Redis and ship records out with a separate forwarder.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedisStore connects using a redis URL and verifies the connection.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Append pushes one record onto the tail of the list.
func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	payload, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, redisKey, payload).Err(); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// List returns the most recent records, oldest first, up to limit.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, redisKey, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}

	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		rec, err := unmarshalRecord([]byte(item))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
