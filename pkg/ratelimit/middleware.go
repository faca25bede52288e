package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/getmockd/gqlproxy/pkg/httputil"
)

// CodeRateLimited is placed in extensions.code of refused requests.
const CodeRateLimited = "RATE_LIMITED"

// Middleware enforces l per client IP. A nil limiter passes everything
// through.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, retryAfter := l.Allow(l.ClientIP(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Burst()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			secs := max(1, int64(math.Ceil(retryAfter.Seconds())))
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			httputil.WriteGraphQLError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
		})
	}
}
