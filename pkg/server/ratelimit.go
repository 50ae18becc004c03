package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter hands out one token bucket per client address.
type clientLimiter struct {
	limiters map[string]*limiterEntry
	now      func() time.Time
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	return &clientLimiter{
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (cl *clientLimiter) allow(client string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := cl.now()
	entry, ok := cl.limiters[client]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.limiters[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// prune drops clients idle for longer than maxAge.
func (cl *clientLimiter) prune(maxAge time.Duration) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	removed := 0
	now := cl.now()
	for client, entry := range cl.limiters {
		if now.Sub(entry.lastSeen) > maxAge {
			delete(cl.limiters, client)
			removed++
		}
	}
	return removed
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
