package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/logging"
)

const (
	defaultRateLimitRPS   = 20
	defaultRateLimitBurst = 40
	visitorIdleTTL        = 3 * time.Minute
	visitorSweepInterval  = time.Minute
)

type RateLimitConfig struct {
	RPS    float64
	Burst  int
	Logger *zap.Logger
	Now    func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors holds one token bucket per caller. Idle buckets are swept while
// looking up others, so no background goroutine outlives the router.
type visitors struct {
	mu        sync.Mutex
	byKey     map[string]*visitor
	lastSweep time.Time
	rps       rate.Limit
	burst     int
	now       func() time.Time
}

func (v *visitors) allow(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if now.Sub(v.lastSweep) >= visitorSweepInterval {
		for k, item := range v.byKey {
			if now.Sub(item.lastSeen) > visitorIdleTTL {
				delete(v.byKey, k)
			}
		}
		v.lastSweep = now
	}

	item, ok := v.byKey[key]
	if !ok {
		item = &visitor{limiter: rate.NewLimiter(v.rps, v.burst)}
		v.byKey[key] = item
	}
	item.lastSeen = now
	return item.limiter.AllowN(now, 1)
}

func (v *visitors) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.byKey)
}

// RateLimit throttles per caller. Requests that carry a resolved actor share
// that actor's bucket across addresses; anonymous requests are keyed by IP.
// It must run inside Auth to see the actor.
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	limiter := newVisitors(config)
	logger := logging.OrNop(config.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			if !limiter.allow(key) {
				logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				writeErrorEnvelope(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newVisitors(config RateLimitConfig) *visitors {
	if config.RPS <= 0 {
		config.RPS = defaultRateLimitRPS
	}
	if config.Burst <= 0 {
		config.Burst = defaultRateLimitBurst
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &visitors{
		byKey:     make(map[string]*visitor),
		lastSweep: config.Now(),
		rps:       rate.Limit(config.RPS),
		burst:     config.Burst,
		now:       config.Now,
	}
}

func rateLimitKey(r *http.Request) string {
	if actor := GetActor(r.Context()); actor != "" {
		return "actor:" + actor
	}
	return "ip:" + extractIP(r.RemoteAddr)
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
