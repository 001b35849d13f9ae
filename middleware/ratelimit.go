package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/multi-tenant-crm/config"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LimitRecorder counts requests rejected by a rate limiter
type LimitRecorder interface {
	RecordRateLimited(route string)
}

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	limiters    sync.Map // map[string]*rate.Limiter
	rate        rate.Limit
	burst       int
	requests    int
	window      time.Duration
	recorder    LimitRecorder
	logger      *zap.Logger
	mu          sync.Mutex
	lastCleanup time.Time
}

// NewIPRateLimiter allows cfg.LoginRequests per cfg.LoginWindow per IP.
// recorder may be nil.
func NewIPRateLimiter(cfg config.RateLimitConfig, recorder LimitRecorder, logger *zap.Logger) *IPRateLimiter {
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = cfg.LoginRequests
	}
	return &IPRateLimiter{
		rate:        rate.Limit(float64(cfg.LoginRequests) / cfg.LoginWindow.Seconds()),
		burst:       burst,
		requests:    cfg.LoginRequests,
		window:      cfg.LoginWindow,
		recorder:    recorder,
		logger:      logger,
		lastCleanup: time.Now(),
	}
}

func (l *IPRateLimiter) limiter(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	l.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops idle limiters, at most once every five minutes
func (l *IPRateLimiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

// Middleware rejects requests over the limit with 429 and Retry-After
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		limiter := l.limiter(key)

		if !limiter.Allow() {
			reservation := limiter.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()

			retryAfter := max(int(delay.Seconds()), 1)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.requests))
			w.Header().Set("X-RateLimit-Window", l.window.String())

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if l.recorder != nil {
				l.recorder.RecordRateLimited(route)
			}
			l.logger.Warn("rate limit exceeded",
				zap.String("ip", key),
				zap.String("path", r.URL.Path),
				zap.Int("retry_after", retryAfter))

			_ = utils.WriteTooManyRequests(w, "Too many login attempts. Please try again later.", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the first X-Forwarded-For hop, X-Real-IP, or the
// connection's address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
