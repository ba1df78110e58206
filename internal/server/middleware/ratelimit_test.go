package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// keyRecorder allows every request and remembers the keys it was asked about.
type keyRecorder struct {
	keys []string
}

func (k *keyRecorder) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	k.keys = append(k.keys, key)
	return true, nil
}

func serveWithHeaders(trust bool, headers map[string]string) string {
	rec := &keyRecorder{}
	h := RateLimit(rec, RateLimitConfig{Scope: "premium", Limit: 1, Window: time.Minute, TrustProxyHeaders: trust},
		slog.New(slog.DiscardHandler))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/premium/markets/x/probability", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return rec.keys[0]
}

func TestRateLimit_IgnoresProxyHeadersByDefault(t *testing.T) {
	key := serveWithHeaders(false, map[string]string{
		"X-Forwarded-For": "198.51.100.1, 10.0.0.1",
		"X-Real-IP":       "198.51.100.2",
	})
	assert.Equal(t, "ratelimit:premium:203.0.113.7", key)
}

func TestRateLimit_TrustedProxyHeaders(t *testing.T) {
	assert.Equal(t, "ratelimit:premium:198.51.100.1",
		serveWithHeaders(true, map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}))
	assert.Equal(t, "ratelimit:premium:198.51.100.2",
		serveWithHeaders(true, map[string]string{"X-Real-IP": "198.51.100.2"}))
	assert.Equal(t, "ratelimit:premium:203.0.113.7", serveWithHeaders(true, nil))
}
