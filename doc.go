// Package marketauth provides the account and session core of a marketplace:
// registration, password login with optional TOTP second factor, opaque
// server-side sessions, password reset, email verification and an
// append-only security log.
//
// Engine methods are safe to call from multiple goroutines once the engine has
// been constructed through [Builder.Build].
//
// # Architecture boundaries
//
// marketauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types ([User], [LoginResult], [SessionSummary]). Persistence is
// behind the [Store] interface, implemented by store.Memory and
// store.Postgres. Rate limiting, audit dispatch and flow orchestration live
// under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Store or log raw session tokens, reset tokens or verification codes.
//   - Reveal through errors or timing whether an email address is registered.
//   - Import any sub-package that re-imports marketauth (no import cycles).
//
// # Transport
//
// The package has no HTTP dependency. The httpapi sub-package maps Engine
// operations onto JSON endpoints and an auth_session cookie.
package marketauth
