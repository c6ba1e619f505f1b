package core

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"storefront/internal/types"
)

// rateLimitWindow is the fixed window RateLimitPerMinute is counted over.
const rateLimitWindow = time.Minute

// RateLimit enforces Server.RateLimitPerMinute per client IP.
//
// If no RateLimitStore is configured, or the configured limit is zero, the
// middleware passes through.
//
// On every counted request the middleware sets:
//   - X-RateLimit-Limit: The maximum number of requests in the window.
//   - X-RateLimit-Remaining: The number of requests remaining.
//   - X-RateLimit-Reset: Unix timestamp when the window resets.
//
// When rate limited, the middleware also sets Retry-After.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	limit := 0
	if s.Config != nil {
		limit = s.Config.Server.RateLimitPerMinute
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimits == nil || limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := extractClientIP(r)
		result, err := s.RateLimits.IncrementAndCheck(r.Context(), ip, limit, rateLimitWindow)
		if err != nil {
			// Fail open: a limiter outage must not block the API.
			s.Logger.Error("rate limit store error",
				slog.String("client_ip", ip),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("client_ip", ip),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			Error(w, r, types.NewAppError(types.ErrCodeRateLimited, "Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers to the response.
func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP returns the first X-Forwarded-For entry when present
// (API Gateway and load balancers append to it), else RemoteAddr without
// its port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may not have a port (e.g., in tests).
		return r.RemoteAddr
	}
	return ip
}

// MemoryRateLimitStore is a fixed-window RateLimitStore held in process
// memory. Each Lambda instance or container counts independently.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimitStore creates an empty store. A nil clock uses time.Now.
func NewMemoryRateLimitStore(clock types.Clock) *MemoryRateLimitStore {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &MemoryRateLimitStore{
		windows: make(map[string]*rateWindow),
		now:     now,
	}
}

// IncrementAndCheck counts one request for key and reports whether it is
// within limit for the current window. Expired windows are swept lazily.
func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(m.windows) > 10000 {
			m.sweep(now)
		}
		w = &rateWindow{resetAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++

	return RateLimitResult{
		Allowed:   w.count <= limit,
		Remaining: max(limit-w.count, 0),
		ResetAt:   w.resetAt,
	}, nil
}

func (m *MemoryRateLimitStore) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
