package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/noteai-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained tokens per second granted to each
	// client when Config.RateLimit is zero.
	defaultRateLimit = 10
	// defaultRateBurst is the bucket size per client when Config.RateBurst is zero.
	defaultRateBurst = 20
	// limiterIdleTTL is how long a client's bucket survives without requests.
	limiterIdleTTL = 5 * time.Minute
	// evictInterval is how often idle buckets are swept.
	evictInterval = time.Minute
)

// routeCost is the number of tokens a request to the named handler spends.
// Handlers that call the chat model or walk the notes directory cost more
// than index lookups. Unlisted handlers cost one token.
var routeCost = map[string]int{
	"context": 2,
	"chat":    4,
	"reindex": 5,
}

// clientBucket is one client's token bucket and its last use.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket shared by every protected
// route. Idle buckets are evicted in the background.
type rateLimiter struct {
	// mu guards buckets.
	mu sync.Mutex
	// buckets maps client IP to its bucket.
	buckets map[string]*clientBucket
	// rps is the refill rate per client.
	rps rate.Limit
	// burst is the bucket size per client.
	burst int
	// now returns the current time; replaced in tests.
	now func() time.Time
	// log records evictions.
	log *slog.Logger
}

// newRateLimiter constructs a rateLimiter and starts its eviction loop. The
// loop exits when the returned stop function is called.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		now:     time.Now,
		log:     log,
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(evictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := rl.evict(); n > 0 {
					rl.log.Debug("rate limit: evicted idle clients", slog.Int("count", n))
				}
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(stop) }) }
}

// bucket returns the limiter for ip, creating it on first use.
func (rl *rateLimiter) bucket(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// evict drops buckets idle for longer than limiterIdleTTL and reports how
// many were removed.
func (rl *rateLimiter) evict() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	n := 0
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
			n++
		}
	}
	return n
}

// costOf returns the token cost of the named handler, capped at the burst
// so every route stays reachable.
func (rl *rateLimiter) costOf(name string) int {
	c, ok := routeCost[name]
	if !ok {
		c = 1
	}
	return min(c, rl.burst)
}

// middleware charges the named handler's cost before calling next. Requests
// that cannot be paid for get 429 with a JSON error and a Retry-After header
// giving the whole seconds until the bucket holds enough tokens. reject is
// called once per rejected request.
func (rl *rateLimiter) middleware(name string, reject func(), next http.Handler) http.Handler {
	cost := rl.costOf(name)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		lim := rl.bucket(ip)
		now := rl.now()
		if lim.AllowN(now, cost) {
			next.ServeHTTP(w, r)
			return
		}

		wait := retryAfter(lim.TokensAt(now), cost, rl.rps)
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("handler", name),
			slog.Int("cost", cost),
			slog.Int("retry_after_s", wait),
		)
		if reject != nil {
			reject()
		}
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
	})
}

// retryAfter returns the whole seconds, at least one, until tokens refill to
// cost at rps tokens per second.
func retryAfter(tokens float64, cost int, rps rate.Limit) int {
	deficit := float64(cost) - tokens
	if deficit <= 0 || rps <= 0 || rps == rate.Inf {
		return 1
	}
	secs := math.Ceil(deficit / float64(rps))
	if secs > math.MaxInt32 {
		return math.MaxInt32
	}
	return max(int(secs), 1)
}

// clientIP returns the remote IP of r without its port. X-Forwarded-For is
// ignored because the server binds to localhost.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
