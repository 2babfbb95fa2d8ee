package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleBucket is how long an unused bucket is kept.
const idleBucket = 5 * time.Minute

// limitedRoutes are the POST routes worth throttling: each job starts a
// browser and each login is a password guess. They draw on separate buckets.
var limitedRoutes = map[string]bool{
	"/api/v1/jobs":  true,
	"/api/v1/login": true,
}

type bucketKey struct {
	route  string
	client string
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Throttle holds one token bucket per client and route. Idle buckets are
// dropped lazily, at most once per idle period.
type Throttle struct {
	mu        sync.Mutex
	buckets   map[bucketKey]*bucket
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

// NewThrottle allows rps requests per second per client and route, with a
// burst of rps.
func NewThrottle(rps int) *Throttle {
	return &Throttle{
		buckets: make(map[bucketKey]*bucket),
		limit:   rate.Limit(rps),
		burst:   rps,
		now:     time.Now,
	}
}

// Take spends one token for client on route. When none is left it reports
// how long the client should wait.
func (t *Throttle) Take(route, client string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) >= idleBucket {
		t.sweep(now)
	}
	k := bucketKey{route: route, client: client}
	b, ok := t.buckets[k]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[k] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (t *Throttle) sweep(now time.Time) {
	for k, b := range t.buckets {
		if now.Sub(b.seen) > idleBucket {
			delete(t.buckets, k)
		}
	}
	t.lastSweep = now
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// RateLimit returns a Middleware that limits submissions and logins to rps
// req/s per client IP. If rps is 0 the middleware is a no-op.
func RateLimit(rps int) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return throttled(NewThrottle(rps))
}

func throttled(t *Throttle) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && limitedRoutes[r.URL.Path] {
				if ok, wait := t.Take(r.URL.Path, clientIP(r)); !ok {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the first X-Forwarded-For hop when present, else the peer host.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
