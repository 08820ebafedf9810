package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/session"
)

// DefaultCookieName is the session cookie set by the HTTP surface.
const DefaultCookieName = "auth_session"

// ErrorWriter renders an Engine error onto the response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Options configures Guard and RateLimit.
type Options struct {
	// CookieName defaults to DefaultCookieName.
	CookieName string
	// OnError defaults to a bare 401 for Guard and 429 for RateLimit.
	OnError ErrorWriter
}

// Principal is the authenticated caller behind a request.
type Principal struct {
	Token   string
	Session *session.Session
	User    *marketauth.User
}

type principalContextKey struct{}

// PrincipalFromContext returns the Principal stored by Guard.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// Guard rejects requests without a live session and stores the Principal on
// the request context for the wrapped handler.
func Guard(engine *marketauth.Engine, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults(http.StatusUnauthorized)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				opts.OnError(w, r, marketauth.ErrEngineNotReady)
				return
			}

			token, ok := TokenFromRequest(r, opts.CookieName)
			if !ok {
				opts.OnError(w, r, marketauth.ErrUnauthorized)
				return
			}

			s, u, err := engine.SessionForToken(r.Context(), token)
			if err != nil {
				opts.OnError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, &Principal{
				Token:   token,
				Session: s,
				User:    u,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest reads the session token from cookieName, falling back to
// an Authorization bearer header.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func (o Options) withDefaults(status int) Options {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.OnError == nil {
		o.OnError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(status), status)
		}
	}
	return o
}
