package auth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per peer address with a token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	peers    map[string]*peerLimiter
	limit    rate.Limit
	burst    int
	lifetime time.Duration
}

type peerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per peer. A zero or negative
// perMinute disables limiting and Middleware becomes a no-op.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		peers:    make(map[string]*peerLimiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		lifetime: 10 * time.Minute,
	}
}

// Middleware rejects over-limit peers with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.peers == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(peerHost(r.RemoteAddr)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(peer string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	pl, ok := rl.peers[peer]
	if !ok {
		pl = &peerLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.peers[peer] = pl
	}
	pl.lastSeen = now

	// Opportunistic cleanup keeps the table proportional to active peers.
	if len(rl.peers) > 1024 {
		for addr, entry := range rl.peers {
			if now.Sub(entry.lastSeen) > rl.lifetime {
				delete(rl.peers, addr)
			}
		}
	}

	return pl.limiter.Allow()
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// IsLoopbackHost reports whether host names the local machine. Loopback
// requests still authenticate; this only informs redirect URI policy.
func IsLoopbackHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
