package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"
)

// Middleware enforces a per-client request limit. The key is the remote IP;
// RealIP middleware upstream makes that the real client behind a proxy.
func Middleware(l Limiter, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			}
			d := l.Allow(key, limit)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(d.ResetAt).Seconds())+1, 10))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
