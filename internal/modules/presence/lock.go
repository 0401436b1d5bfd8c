// README: Distributed lock built on the presence store (SET NX + verified release).
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still owns it, so a slow
// straggler can never release a lock someone else re-acquired after expiry.
var releaseScript = redis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

// Lock grants exclusive right to accept one ride request for a short window.
type Lock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLock(rdb *redis.Client, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, ttl: ttl}
}

func acceptLockKey(rideID int64) string { return fmt.Sprintf("order:lock:%d", rideID) }

// Acquire takes the acceptance lock for a ride on behalf of a driver. Returns
// false when another driver already holds it.
func (l *Lock) Acquire(ctx context.Context, rideID, ownerID int64) (bool, error) {
	return l.rdb.SetNX(ctx, acceptLockKey(rideID), fmt.Sprintf("%d", ownerID), l.ttl).Result()
}

// Release clears the lock only if ownerID still holds it. A successful accept
// never calls this: the lock is left to expire as a cool-down against
// duplicate accepts from a retrying client.
func (l *Lock) Release(ctx context.Context, rideID, ownerID int64) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{acceptLockKey(rideID)}, fmt.Sprintf("%d", ownerID)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
