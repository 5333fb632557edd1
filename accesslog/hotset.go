package accesslog

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// HotSet is a shared per-agent ranking of retrieved chunks.
type HotSet interface {
	Incr(ctx context.Context, agentID string, keys ...string) error
	Top(ctx context.Context, agentID string, limit int) ([]string, error)
	Contains(ctx context.Context, agentID string, keys ...string) (bool, error)
	Remove(ctx context.Context, agentID string, keys ...string) error
	Clear(ctx context.Context, agentID string) error
}

// DefaultKeyPrefix namespaces hot set keys.
const DefaultKeyPrefix = "kbase:hot:"

// RedisHotSet keeps one sorted set per agent, scored by access count.
type RedisHotSet struct {
	client *redis.Client
	prefix string
}

var _ HotSet = (*RedisHotSet)(nil)

// NewRedisHotSet wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRedisHotSet(client *redis.Client, prefix string) *RedisHotSet {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisHotSet{client: client, prefix: prefix}
}

func (h *RedisHotSet) key(agentID string) string {
	return h.prefix + agentID
}

func (h *RedisHotSet) Incr(ctx context.Context, agentID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := h.client.Pipeline()
	for _, k := range keys {
		pipe.ZIncrBy(ctx, h.key(agentID), 1, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hot set incr: %w", err)
	}
	return nil
}

func (h *RedisHotSet) Top(ctx context.Context, agentID string, limit int) ([]string, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	keys, err := h.client.ZRevRange(ctx, h.key(agentID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("hot set top: %w", err)
	}
	return keys, nil
}

func (h *RedisHotSet) Contains(ctx context.Context, agentID string, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	for _, k := range keys {
		err := h.client.ZScore(ctx, h.key(agentID), k).Err()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("hot set lookup: %w", err)
		}
	}
	return true, nil
}

func (h *RedisHotSet) Remove(ctx context.Context, agentID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	return h.client.ZRem(ctx, h.key(agentID), members...).Err()
}

func (h *RedisHotSet) Clear(ctx context.Context, agentID string) error {
	return h.client.Del(ctx, h.key(agentID)).Err()
}
