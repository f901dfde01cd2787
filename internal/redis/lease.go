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
	ErrLeaseNotAcquired = errors.New("stream lease not acquired")
)

// acquireRetryInterval paces SetNX attempts while another instance holds
// the lease; a holder releases well within one TTL.
const acquireRetryInterval = 25 * time.Millisecond

// Leaser serializes writers on a shared stream resource. The file event log
// backend takes a lease around each append so that several process instances
// sharing one stream directory cannot interleave id assignment.
type Leaser interface {
	WithLease(ctx context.Context, streamKey string, fn func(ctx context.Context) error) error
}

// leaseClient is the slice of *redis.Client the leaser uses.
type leaseClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

type redisStreamLeaser struct {
	client leaseClient
	ttl    time.Duration
}

// NewRedisStreamLeaser creates a leaser backed by a per stream Redis key.
func NewRedisStreamLeaser(client *redis.Client, ttl time.Duration) Leaser {
	return &redisStreamLeaser{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisStreamLeaser) WithLease(ctx context.Context, streamKey string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lease:stream:%s", streamKey)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire retries SetNX until one TTL has elapsed. Contention here is a
// short wait while another instance finishes its append, so waiting it
// out beats failing the caller's mutation outright.
func (l *redisStreamLeaser) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.ttl)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire stream lease: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLeaseNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisStreamLeaser) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release stream lease: %w", err)
	}
	return nil
}
