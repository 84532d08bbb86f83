package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperr "drivehub/internal/errors"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance of the service.
// Each lock carries a TTL so a crashed holder cannot keep it forever.
type RedisLocker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	retryEvery time.Duration
	logger     *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:     client,
		prefix:     "drivehub:lock:",
		ttl:        ttl,
		retryEvery: 25 * time.Millisecond,
		logger:     logger,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, apperr.Transient("lock "+key, err)
			}
			return nil, apperr.Transient("lock "+key, fmt.Errorf("redis setnx: %w", err))
		}
		if ok {
			return l.unlockFunc(redisKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Transient("lock "+key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlockFunc(redisKey, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			// the TTL frees it eventually
			l.logger.Warn("failed to release redis lock", zap.String("key", redisKey), zap.Error(err))
		}
	}
}
