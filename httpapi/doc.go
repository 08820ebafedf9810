// Package httpapi exposes the marketauth Engine over JSON/HTTP.
//
// Routes are registered on a gorilla/mux router and wrapped with rs/cors.
// Authenticated routes read the auth_session cookie (or a bearer header)
// through middleware.Guard. Engine errors are mapped to status codes with
// generic messages; internal detail only reaches the zap logger.
package httpapi
