package server

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// evictionLogInterval is the minimum time between eviction log messages
const evictionLogInterval = 30 * time.Second

// ipLimiter tracks a per-IP token bucket and its position in the LRU list
type ipLimiter struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP with token buckets. At most
// maxIPs buckets are kept; the least recently seen IP is evicted first.
type RateLimiter struct {
	rps    float64
	burst  int
	maxIPs int
	log    *zap.Logger

	mu           sync.Mutex
	items        map[string]*list.Element
	order        *list.List // front = most recent
	lastEvictLog time.Time
	evictCount   int

	done chan struct{}
}

var _ Middleware = (*RateLimiter)(nil)

// NewRateLimiter starts a limiter whose stale-bucket sweeper runs until ctx
// is cancelled
func NewRateLimiter(ctx context.Context, rps float64, burst, maxIPs int, log *zap.Logger) *RateLimiter {
	if maxIPs <= 0 {
		maxIPs = 10000
	}
	if burst <= 0 {
		burst = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	rl := &RateLimiter{
		rps:    rps,
		burst:  burst,
		maxIPs: maxIPs,
		log:    log.Named("ratelimit"),
		items:  make(map[string]*list.Element),
		order:  list.New(),
		done:   make(chan struct{}),
	}
	go rl.sweep(ctx)
	return rl
}

// Done is closed once the sweeper exits
func (rl *RateLimiter) Done() <-chan struct{} { return rl.done }

func (rl *RateLimiter) sweep(ctx context.Context) {
	defer close(rl.done)
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			// LRU order tracks access recency, not lastSeen, so walk it all
			for e := rl.order.Back(); e != nil; {
				lim := e.Value.(*ipLimiter)
				prev := e.Prev()
				if now.Sub(lim.lastSeen) > 10*time.Minute {
					rl.order.Remove(e)
					delete(rl.items, lim.ip)
				}
				e = prev
			}
			rl.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// Allow takes a token from ip's bucket
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	elem, exists := rl.items[ip]
	if exists {
		rl.order.MoveToFront(elem)
		elem.Value.(*ipLimiter).lastSeen = time.Now()
	} else {
		if rl.order.Len() >= rl.maxIPs {
			if back := rl.order.Back(); back != nil {
				evicted := back.Value.(*ipLimiter)
				rl.order.Remove(back)
				delete(rl.items, evicted.ip)
				rl.evictCount++
				if time.Since(rl.lastEvictLog) >= evictionLogInterval {
					rl.log.Info("evicted least-recent IPs",
						zap.Int("evicted", rl.evictCount), zap.Int("capacity", rl.maxIPs))
					rl.lastEvictLog = time.Now()
					rl.evictCount = 0
				}
			}
		}
		elem = rl.order.PushFront(&ipLimiter{
			ip:       ip,
			limiter:  rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
			lastSeen: time.Now(),
		})
		rl.items[ip] = elem
	}
	return elem.Value.(*ipLimiter).limiter.Allow()
}

// Tracked returns the number of IPs with a bucket
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.order.Len()
}

// Before implements Middleware
func (rl *RateLimiter) Before(ctx Ctx) error {
	if rl.Allow(ctx.ClientIP()) {
		return nil
	}
	retry := 1
	if rl.rps > 0 && rl.rps < 1 {
		retry = int(1/rl.rps + 0.5)
	}
	ctx.SetHeader("Retry-After", strconv.Itoa(retry))
	ctx.Error(http.StatusTooManyRequests, "rate limit exceeded")
	return Stop()
}

// After implements Middleware
func (rl *RateLimiter) After(Ctx) error { return nil }

// clientIP extracts the client IP from the request. X-Forwarded-For and
// X-Real-IP are trusted only from loopback or private peers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	trustedProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())

	if trustedProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}
