package app

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle limits request rate per client address. It guards the HTTP
// surface; the per-device write quota is enforced by the service.
type Throttle struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

func NewThrottle(requestsPerSecond float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 5
	}
	return &Throttle{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
	}
}

// Allow reports whether a request from client may proceed now.
func (t *Throttle) Allow(client string) bool {
	return t.limiter(client).Allow()
}

func (t *Throttle) limiter(client string) *rate.Limiter {
	t.mu.RLock()
	limiter, exists := t.limiters[client]
	t.mu.RUnlock()
	if exists {
		return limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if limiter, exists := t.limiters[client]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(t.defaultRate, t.defaultBurst)
	t.limiters[client] = limiter
	return limiter
}

// clientKey identifies the caller: the first X-Forwarded-For hop when set,
// else the remote host.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
