package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const taskSequenceKey = "seq:tasks"

// RedisSequence allocates task ids with INCR so every instance shares one counter.
type RedisSequence struct {
	client *redis.Client
	key    string
}

// NewRedisSequence creates a sequence stored under the default key.
func NewRedisSequence(client *redis.Client) *RedisSequence {
	return &RedisSequence{client: client, key: taskSequenceKey}
}

// Next returns the next identifier, starting at 1.
func (s *RedisSequence) Next(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, s.key).Result()
}
