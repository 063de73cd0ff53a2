package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleCutoff      = 10 * time.Minute
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP
type RateLimitMiddleware struct {
	limit  rate.Limit
	burst  int
	logger *slog.Logger

	mutex        sync.Mutex
	rateLimiters map[string]*rateLimitEntry
	cleanupTimer *time.Timer
	stopped      bool
}

// NewRateLimitMiddleware allows perSecond requests per client with the given burst
func NewRateLimitMiddleware(perSecond float64, burst int, logger *slog.Logger) *RateLimitMiddleware {
	if burst <= 0 {
		burst = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &RateLimitMiddleware{
		limit:        rate.Limit(perSecond),
		burst:        burst,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimitEntry),
	}
	m.startCleanupTimer()
	return m
}

func (m *RateLimitMiddleware) startCleanupTimer() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.stopped {
		return
	}
	m.cleanupTimer = time.AfterFunc(limiterCleanupInterval, func() {
		m.cleanupOldLimiters(time.Now())
		m.startCleanupTimer()
	})
}

func (m *RateLimitMiddleware) cleanupOldLimiters(now time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cutoff := now.Add(-limiterIdleCutoff)
	for key, entry := range m.rateLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(m.rateLimiters, key)
		}
	}
}

// Stop cancels the cleanup timer
func (m *RateLimitMiddleware) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stopped = true
	if m.cleanupTimer != nil {
		m.cleanupTimer.Stop()
	}
}

func (m *RateLimitMiddleware) getRateLimiter(key string, now time.Time) *rate.Limiter {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, exists := m.rateLimiters[key]
	if !exists {
		entry = &rateLimitEntry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.rateLimiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Middleware rejects requests over the limit with 429
func (m *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := clientIP(r)
		now := time.Now()
		limiter := m.getRateLimiter(clientIP, now)

		limit := strconv.FormatFloat(float64(m.limit), 'f', -1, 64)
		reset := strconv.FormatInt(now.Add(time.Second).Unix(), 10)

		if !limiter.AllowN(now, 1) {
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", reset)

			m.logger.Warn("API rate limit exceeded", "client_ip", clientIP, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}

		remaining := limiter.TokensAt(now)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatFloat(remaining, 'f', 0, 64))
		w.Header().Set("X-RateLimit-Reset", reset)

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
