package middleware

import (
	"net/http"
	"sync"
	"time"

	apperrors "courtslots/pkg/errors"
	httputil "courtslots/pkg/http"
	"courtslots/pkg/logger"

	"golang.org/x/time/rate"
)

type KeyExtractor func(r *http.Request) string

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per caller. Idle buckets are
// evicted after idleTTL.
type UserRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*userLimiter
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	extractor KeyExtractor
	log       *logger.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewUserRateLimiter(perSecond float64, burst int, idleTTL time.Duration, extractor KeyExtractor, log *logger.Logger) *UserRateLimiter {
	if extractor == nil {
		extractor = DefaultUserExtractor
	}
	rl := &UserRateLimiter{
		limiters:  make(map[string]*userLimiter),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idleTTL:   idleTTL,
		extractor: extractor,
		log:       log,
		stopCh:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *UserRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *UserRateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, l := range rl.limiters {
		if now.Sub(l.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *UserRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *UserRateLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}

	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok {
		l = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = l
	}
	l.lastSeen = time.Now()
	rl.mu.Unlock()

	return l.limiter.Allow()
}

func (rl *UserRateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func UserRateLimit(limiter *UserRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiter.extractor(r)
			if !limiter.Allow(key) {
				limiter.log.Warn("Rate limit exceeded",
					"request_id", RequestIDFrom(r.Context()),
					"user_id", key,
					"path", r.URL.Path,
				)
				_ = httputil.WriteError(w, apperrors.RateLimited("Rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func DefaultUserExtractor(r *http.Request) string {
	return r.Header.Get(httputil.HeaderUserID)
}
