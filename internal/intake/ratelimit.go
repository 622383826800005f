package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRateWindow = time.Hour
	DefaultRateMax    = 30
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter admits or refuses one write for a device. Every call that
// returns nil counts against the device's rolling window.
type RateLimiter interface {
	Allow(ctx context.Context, deviceID string) error
}

// MemoryLimiter keeps per-device write timestamps in process memory.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   *gocache.Cache
	window time.Duration
	max    int
	now    func() time.Time
}

func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if max <= 0 {
		max = DefaultRateMax
	}
	return &MemoryLimiter{
		hits:   gocache.New(window, 10*time.Minute),
		window: window,
		max:    max,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, deviceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var recent []time.Time
	if v, ok := l.hits.Get(deviceID); ok {
		for _, at := range v.([]time.Time) {
			if now.Sub(at) < l.window {
				recent = append(recent, at)
			}
		}
	}
	if len(recent) >= l.max {
		l.hits.Set(deviceID, recent, l.window)
		return fmt.Errorf("%w: %d writes per %s", ErrRateLimited, l.max, l.window)
	}
	recent = append(recent, now)
	l.hits.Set(deviceID, recent, l.window)
	return nil
}

// allowScript trims the window, counts it and records the write in one
// server-side step, so concurrent authorities never admit past max.
//
// KEYS[1] device key; ARGV: cutoff ms, now ms, max, member, window ms.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisLimiter keeps the rolling window in a sorted set per device so the
// limit holds across authority processes.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	window time.Duration
	max    int
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, window time.Duration, max int) *RedisLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if max <= 0 {
		max = DefaultRateMax
	}
	return &RedisLimiter{
		client: client,
		prefix: "ratelimit:",
		window: window,
		max:    max,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, deviceID string) error {
	now := l.now()
	admitted, err := allowScript.Run(ctx, l.client, []string{l.prefix + deviceID},
		now.Add(-l.window).UnixMilli(),
		now.UnixMilli(),
		l.max,
		uuid.NewString(),
		l.window.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("record write: %w", err)
	}
	if admitted == 0 {
		return fmt.Errorf("%w: %d writes per %s", ErrRateLimited, l.max, l.window)
	}
	return nil
}
