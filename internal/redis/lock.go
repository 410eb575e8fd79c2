package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("specialist lock not acquired")
)

const lockRetryInterval = 25 * time.Millisecond

// Locker guards the booking critical section of a specialist. It is a
// front door that keeps concurrent bookers from piling onto the same
// database row lock; the database transaction remains the authority.
type Locker interface {
	WithSpecialistLock(ctx context.Context, specialistID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisSpecialistLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisSpecialistLocker creates a locker that uses a per specialist Redis key.
// Acquisition is retried for up to wait before giving up with ErrLockNotAcquired.
func NewRedisSpecialistLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisSpecialistLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func LockKey(specialistID uuid.UUID) string {
	return fmt.Sprintf("lock:specialist:%s", specialistID.String())
}

func (l *redisSpecialistLocker) WithSpecialistLock(ctx context.Context, specialistID uuid.UUID, fn func(ctx context.Context) error) error {
	key := LockKey(specialistID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release even when ctx is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisSpecialistLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire specialist lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSpecialistLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release specialist lock: %w", err)
	}
	return nil
}

type nopLocker struct{}

// NopLocker runs fn directly. Used when Redis is not configured; the store
// transaction still serializes bookings per specialist.
func NopLocker() Locker { return nopLocker{} }

func (nopLocker) WithSpecialistLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
