package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares one Credential Pair between every process pointed at the
// same key.
type RedisStore struct {
	rdb redis.Cmdable
	key string
}

func NewRedisStore(rdb redis.Cmdable, key string) *RedisStore {
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (Pair, error) {
	var pair Pair
	err := s.rdb.Get(ctx, s.key).Scan(&pair)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pair{}, ErrNoCredentials
		}
		return Pair{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	if pair.Empty() {
		return Pair{}, ErrNoCredentials
	}
	return pair, nil
}

func (s *RedisStore) Save(ctx context.Context, pair Pair) error {
	if err := s.rdb.Set(ctx, s.key, pair, 0).Err(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (s *RedisStore) SetAccess(ctx context.Context, access string) error {
	pair, err := s.Load(ctx)
	if err != nil {
		return err
	}
	pair.Access = access
	return s.Save(ctx, pair)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}
