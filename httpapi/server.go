package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 64 << 10

// Options configures Server.
type Options struct {
	Logger *zap.Logger
	// AllowedOrigins feeds the CORS policy. Empty disables cross-origin access.
	AllowedOrigins []string
	// SecureCookies marks the session cookie Secure. Set it in production.
	SecureCookies bool
	// TrustProxy lets ClientIP read X-Forwarded-For and X-Real-IP.
	TrustProxy bool
	// CookieName defaults to "auth_session".
	CookieName string
	// Metrics is mounted at GET /metrics when set.
	Metrics      http.Handler
	MaxBodyBytes int64
	// Now sets cookie lifetimes. Defaults to time.Now.
	Now func() time.Time
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine        *marketauth.Engine
	logger        *zap.Logger
	cookieName    string
	secureCookies bool
	now           func() time.Time

	router  *mux.Router
	handler http.Handler
}

// New builds the router, middleware chain and CORS policy around engine.
func New(engine *marketauth.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CookieName == "" {
		opts.CookieName = middleware.DefaultCookieName
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		engine:        engine,
		logger:        opts.Logger,
		cookieName:    opts.CookieName,
		secureCookies: opts.SecureCookies,
		now:           opts.Now,
		router:        mux.NewRouter(),
	}
	s.routes(opts)

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	})
	s.handler = c.Handler(s.router)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) {
	r := s.router
	r.Use(recoverer(s.logger), accessLog(s.logger), limitBody(opts.MaxBodyBytes), clientContext(opts.TrustProxy))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	mwOpts := middleware.Options{CookieName: s.cookieName, OnError: s.writeError}
	guard := middleware.Guard(s.engine, mwOpts)
	limited := middleware.RateLimit(s.engine, marketauth.RateLimitDefault, mwOpts)
	authed := func(h http.HandlerFunc) http.Handler {
		return limited(guard(h))
	}

	// Login, register and password reset are charged inside the Engine
	// against their own classes.
	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/register", s.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.login).Methods(http.MethodPost)
	auth.HandleFunc("/login/2fa", s.loginTwoFactor).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/request", s.requestPasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/consume", s.consumePasswordReset).Methods(http.MethodPost)
	auth.Handle("/logout", limited(http.HandlerFunc(s.logout))).Methods(http.MethodPost)

	auth.Handle("/me", authed(s.me)).Methods(http.MethodGet)
	auth.Handle("/sessions", authed(s.listSessions)).Methods(http.MethodGet)
	auth.Handle("/sessions", authed(s.revokeOtherSessions)).Methods(http.MethodDelete)
	auth.Handle("/sessions/{id}", authed(s.revokeSession)).Methods(http.MethodDelete)

	auth.Handle("/2fa/setup", authed(s.twoFactorSetup)).Methods(http.MethodPost)
	auth.Handle("/2fa/confirm", authed(s.twoFactorConfirm)).Methods(http.MethodPost)
	auth.Handle("/2fa/status", authed(s.twoFactorStatus)).Methods(http.MethodGet, http.MethodPost)
	auth.Handle("/2fa/disable", authed(s.twoFactorDisable)).Methods(http.MethodPost)

	// VerifyEmail and ResendEmailVerification charge the default class themselves.
	auth.Handle("/verify-email", guard(http.HandlerFunc(s.verifyEmail))).Methods(http.MethodPost)
	auth.Handle("/verify-email/resend", guard(http.HandlerFunc(s.resendVerification))).Methods(http.MethodPost)

	users := r.PathPrefix("/api/users").Subrouter()
	users.Handle("/password", authed(s.changePassword)).Methods(http.MethodPost)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func principal(r *http.Request) *middleware.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}
