package intake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ at time.Time }

func (c *fakeClock) now() time.Time { return c.at }

func exerciseLimiter(t *testing.T, limiter RateLimiter, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.NoError(t, limiter.Allow(ctx, "device-1"), "write %d", i+1)
		clock.at = clock.at.Add(time.Minute)
	}
	err := limiter.Allow(ctx, "device-1")
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other devices have their own window.
	assert.NoError(t, limiter.Allow(ctx, "device-2"))

	// 31 minutes after the first write it has left the window.
	clock.at = clock.at.Add(31 * time.Minute)
	assert.NoError(t, limiter.Allow(ctx, "device-1"))
}

func TestMemoryLimiterRollingWindow(t *testing.T) {
	clock := &fakeClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(time.Hour, 30)
	limiter.now = clock.now

	exerciseLimiter(t, limiter, clock)
}

func TestRedisLimiterRollingWindow(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	clock := &fakeClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewRedisLimiter(client, time.Hour, 30)
	limiter.now = clock.now

	exerciseLimiter(t, limiter, clock)
}

func TestRedisLimiterHoldsAcrossProcesses(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		device := fmt.Sprintf("device-%d", round)
		var admitted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			client := redis.NewClient(&redis.Options{Addr: s.Addr()})
			defer client.Close()
			limiter := NewRedisLimiter(client, time.Hour, 30)

			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					err := limiter.Allow(ctx, device)
					if err == nil {
						admitted.Add(1)
						continue
					}
					assert.ErrorIs(t, err, ErrRateLimited)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(30), admitted.Load(), "round %d", round)
	}
}

func TestLimiterDefaults(t *testing.T) {
	l := NewMemoryLimiter(0, 0)
	assert.Equal(t, DefaultRateWindow, l.window)
	assert.Equal(t, DefaultRateMax, l.max)
}
