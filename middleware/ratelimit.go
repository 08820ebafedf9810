package middleware

import (
	"net/http"

	"github.com/MrEthical07/marketauth"
)

// RateLimit charges every request against class before calling next. It
// expects the client IP to already be on the request context.
func RateLimit(engine *marketauth.Engine, class marketauth.RateLimitClass, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults(http.StatusTooManyRequests)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.CheckRateLimit(r.Context(), class); err != nil {
				opts.OnError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
