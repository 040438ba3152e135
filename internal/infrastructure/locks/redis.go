package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/infrastructure/cache"
)

// ErrLockTimeout is returned when the lock could not be taken before ctx expired
var ErrLockTimeout = errors.New("timed out waiting for lock")

// RedisLocker is a distributed lock over SET NX with a per-holder token
type RedisLocker struct {
	client    cache.RedisClient
	prefix    string
	retryWait time.Duration
	logger    *zap.Logger
}

func NewRedisLocker(client cache.RedisClient, prefix string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:    client,
		prefix:    prefix,
		retryWait: 25 * time.Millisecond,
		logger:    logger,
	}
}

// Lock polls until the key is acquired or ctx is done. The key expires
// after ttl if the holder dies.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	wait := l.retryWait
	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, fullKey)
		case <-time.After(wait):
		}
		if wait < time.Second {
			wait *= 2
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := l.client.CompareAndDelete(ctx, fullKey, token)
		if err != nil {
			l.logger.Warn("Failed to release lock", zap.String("key", fullKey), zap.Error(err))
			return
		}
		if !released {
			l.logger.Warn("Lock expired before release", zap.String("key", fullKey), zap.Duration("ttl", ttl))
		}
	}, nil
}
