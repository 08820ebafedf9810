package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/marketauth"
)

// ClientIP resolves the caller's address. Proxy headers are honoured only
// when trustProxy is set: the first X-Forwarded-For hop, then X-Real-IP.
// Otherwise the host part of RemoteAddr is used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientContext puts the client IP and User-Agent on the request context so
// every Engine call and security event sees them.
func clientContext(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := marketauth.WithClientIP(r.Context(), ClientIP(r, trustProxy))
			ctx = marketauth.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
