package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// releaseScript deletes a lock only while it still carries the caller's
// token, so an expired and re-acquired lock is never released by its
// previous holder.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

const releaseTimeout = 5 * time.Second

// LockManager hands out per-token trade locks. Two engine processes sharing
// a Redis never trade the same mint at once.
type LockManager struct {
	c      *Client
	holder string
}

// NewLockManager creates a LockManager. Lock values identify the holding
// host so a stuck lock can be traced with GET.
func NewLockManager(c *Client) *LockManager {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &LockManager{c: c, holder: host}
}

// Acquire takes the lock for key for at most ttl. It returns
// domain.ErrLockHeld when someone else holds it. The release func may be
// called any number of times.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lm.c.key("lock", key)
	token := lm.holder + "/" + uuid.NewString()

	acquired, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	case !acquired:
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release runs on shutdown paths where ctx is already done.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(rctx, lm.c.rdb, []string{k}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
