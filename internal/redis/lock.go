package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseIfOwner deletes the lock only when it still holds the caller's token.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func driverLockKey(driverID string) string {
	return fmt.Sprintf("lock:driver:%s", driverID)
}

// AcquireDriverLock claims the driver for tripID.
// Returns true if the lock was acquired, false if another trip holds it.
func (s *LockStore) AcquireDriverLock(ctx context.Context, driverID, tripID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, driverLockKey(driverID), tripID, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseDriverLock releases the driver if tripID still holds the lock.
func (s *LockStore) ReleaseDriverLock(ctx context.Context, driverID, tripID string) error {
	return releaseIfOwner.Run(ctx, s.client, []string{driverLockKey(driverID)}, tripID).Err()
}

// DriverLockHolder returns the trip holding the driver, or "" when free.
func (s *LockStore) DriverLockHolder(ctx context.Context, driverID string) (string, error) {
	tripID, err := s.client.Get(ctx, driverLockKey(driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return tripID, err
}
