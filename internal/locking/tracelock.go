// Package locking serializes per-trace writes across concurrent pipeline
// workers using a Redis advisory lock (SET NX PX), mirroring the token
// bucket lock pattern the kernel rate limiter uses for its own Redis state.
package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TraceLock prevents two workers from processing the same trace_id's
// evidence/belief writes concurrently. When no Redis URL is configured it
// degrades to a no-op, single-process deployments have no need for
// distributed locking.
type TraceLock struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a TraceLock. redisURL == "" yields a no-op lock.
func New(redisURL string) (*TraceLock, error) {
	if redisURL == "" {
		return &TraceLock{ttl: 30 * time.Second}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("locking: parse redis url: %w", err)
	}
	return &TraceLock{client: redis.NewClient(opts), ttl: 30 * time.Second}, nil
}

// Handle releases a held lock.
type Handle struct {
	client *redis.Client
	key    string
	token  string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Release frees the lock if it is still held by this handle's token,
// avoiding releasing a lock some other worker acquired after this one's
// TTL expired.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil || h.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err()
}

// Acquire blocks (with the given context's deadline) until the lock for
// traceID is held, or returns an error if the context expires first.
func (l *TraceLock) Acquire(ctx context.Context, traceID string) (*Handle, error) {
	if l.client == nil {
		return &Handle{}, nil
	}

	key := fmt.Sprintf("voxcortex:tracelock:%s", traceID)
	token := uuid.New().String()

	backoff := 25 * time.Millisecond
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("locking: acquire %s: %w", traceID, err)
		}
		if ok {
			return &Handle{client: l.client, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("locking: acquire %s: %w", traceID, ctx.Err())
		case <-time.After(backoff):
			if backoff < 500*time.Millisecond {
				backoff *= 2
			}
		}
	}
}
