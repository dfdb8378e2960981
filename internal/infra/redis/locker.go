package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/booksync/internal/platform/lock"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// LockKeyPrefix is the prefix for advisory lock keys
const LockKeyPrefix = "lock:"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a lease-based advisory lock shared by every worker
type Locker struct {
	client *redis.Client
	logger *logger.Logger
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker creates a Redis-backed locker
func NewLocker(client *redis.Client, log *logger.Logger) *Locker {
	return &Locker{
		client: client,
		logger: log.WithField("component", "locker"),
	}
}

// Acquire takes key for ttl. It fails with lock.ErrHeld when another holder
// has the lease. An expired lease can be taken over.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Release, error) {
	token := uuid.NewString()
	redisKey := LockKeyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", lock.ErrHeld, key)
	}

	l.logger.Debug("lock acquired", "key", key, "ttl", ttl)
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if n == 0 {
			l.logger.Warn("lock lease expired before release", "key", key)
		}
		return nil
	}, nil
}
