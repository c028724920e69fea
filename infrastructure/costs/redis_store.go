package costs

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "llmrelay"

	redisOpTimeout = 3 * time.Second
)

// RedisStore shares the spend accumulator across gateway instances so a
// budget ceiling holds fleet-wide, not per process. Keys are namespaced by
// prefix so several relays can share one Redis.
type RedisStore struct {
	client        *redis.Client
	totalKey      string
	byProviderKey string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{
		client:        client,
		totalKey:      keyPrefix + ":costs:total",
		byProviderKey: keyPrefix + ":costs:by_provider",
	}
}

func (s *RedisStore) Increment(providerID string, costUSD float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.IncrByFloat(ctx, s.totalKey, costUSD)
	pipe.HIncrByFloat(ctx, s.byProviderKey, providerID, costUSD)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Total() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.totalKey).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (s *RedisStore) ByProvider() (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.byProviderKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		out[id] = f
	}
	return out, nil
}
