package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitea.jw6.us/james/calsched/internal/config"
	"gitea.jw6.us/james/calsched/internal/itip"
)

const statusKeyPrefix = "itip:status:"

// NewRedis connects to Redis using the provided configuration. An
// unreachable server is logged, not fatal; the client reconnects lazily.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}
	return client
}

// RedisStatusStore keeps message statuses in Redis, for deployments that
// share status between several engine instances without a database.
// Statuses never expire; only Reset returns a message to NONE.
type RedisStatusStore struct {
	client *redis.Client
}

var _ itip.StatusStore = (*RedisStatusStore)(nil)

// NewRedisStatusStore returns a status store backed by client.
func NewRedisStatusStore(client *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{client: client}
}

func statusKey(key itip.MessageKey) string {
	return statusKeyPrefix + key.String()
}

func (s *RedisStatusStore) Get(ctx context.Context, key itip.MessageKey) (itip.MessageStatus, error) {
	value, err := s.client.Get(ctx, statusKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return itip.StatusNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("get status %s: %w", key, err)
	}
	return itip.ParseMessageStatus(value)
}

// CompareAndSet watches the key so a concurrent writer aborts the
// transaction, which is reported as a lost race.
func (s *RedisStatusStore) CompareAndSet(ctx context.Context, key itip.MessageKey, expected, next itip.MessageStatus) (bool, error) {
	k := statusKey(key)
	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			current = itip.StatusNone.String()
		case err != nil:
			return err
		}
		if current != expected.String() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == itip.StatusNone {
				pipe.Del(ctx, k)
				return nil
			}
			pipe.Set(ctx, k, next.String(), 0)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare and set status %s: %w", key, err)
	}
	return swapped, nil
}

func (s *RedisStatusStore) Reset(ctx context.Context, key itip.MessageKey) error {
	if err := s.client.Del(ctx, statusKey(key)).Err(); err != nil {
		return fmt.Errorf("reset status %s: %w", key, err)
	}
	return nil
}
