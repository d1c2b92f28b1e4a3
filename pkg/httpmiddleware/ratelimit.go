package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig configures the per-client token bucket.
type ThrottleConfig struct {
	// RPS is the sustained request rate per client.
	RPS float64
	// Burst is the bucket size.
	Burst int
	// IdleTTL is how long an unused client bucket is kept. Zero means 10m.
	IdleTTL time.Duration
	// KeyFunc extracts the client key from a request. If nil, the X-User-ID
	// header is used, then the client IP address.
	KeyFunc func(*http.Request) string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type throttle struct {
	cfg ThrottleConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newThrottle(cfg ThrottleConfig) *throttle {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &throttle{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// reserve takes a token for key. When none is available it returns how long
// until one will be.
func (t *throttle) reserve(key string) (time.Duration, bool) {
	now := t.now()

	t.mu.Lock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(t.cfg.RPS), t.cfg.Burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	t.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return 0, true
	}
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Duration(math.MaxInt64), false
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay, false
}

func (t *throttle) cleanup() {
	cutoff := t.now().Add(-t.cfg.IdleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, b := range t.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(t.buckets, key)
		}
	}
}

func (t *throttle) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.cfg.IdleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.cleanup()
			}
		}
	}()
}

// Throttle returns a middleware that limits each client to cfg.RPS requests
// per second with bursts of cfg.Burst. Refused requests get 429 with a
// Retry-After header. Idle client buckets are evicted until ctx is
// canceled.
func Throttle(ctx context.Context, cfg ThrottleConfig) Middleware {
	t := newThrottle(cfg)
	t.startCleanup(ctx)
	return throttleMiddleware(t)
}

func throttleMiddleware(t *throttle) Middleware {
	limit := strconv.Itoa(t.cfg.Burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", limit)

			wait, ok := t.reserve(t.cfg.KeyFunc(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 || wait == time.Duration(math.MaxInt64) {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

// defaultKeyFunc uses the X-User-ID header when present. Otherwise it takes
// the client IP from X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return "user:" + id
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
