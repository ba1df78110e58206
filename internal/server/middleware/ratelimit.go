package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// RateLimitConfig parameterises RateLimit. Scope namespaces the counters so
// separate route groups do not share a budget.
type RateLimitConfig struct {
	Scope  string
	Limit  int
	Window time.Duration
	// TrustProxyHeaders takes the client IP from X-Forwarded-For or X-Real-IP.
	// Without it the connection's remote address is used.
	TrustProxyHeaders bool
}

// RateLimit returns middleware limiting each client IP to cfg.Limit requests
// per cfg.Window on the wrapped routes. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := extractClientIP(r, cfg.TrustProxyHeaders)
			key := "ratelimit:" + cfg.Scope + ":" + clientIP

			allowed, err := limiter.Allow(r.Context(), key, cfg.Limit, cfg.Window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					slog.String("client_ip", clientIP),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP returns the remote address host, or the first proxy header
// value when trustProxy is set.
func extractClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
