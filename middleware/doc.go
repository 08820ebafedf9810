// Package middleware exposes HTTP middleware that resolves the marketauth
// session behind a request and enforces per-class rate limits.
//
// # Guards
//
//   - [Guard] requires a live session, read from the session cookie or an
//     Authorization bearer header.
//   - [RateLimit] charges one request against an Engine rate-limit class.
//
// Guard stores the resolved [Principal] on the request context; handlers
// read it back with [PrincipalFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Every decision
// is delegated to Engine.SessionForToken and Engine.CheckRateLimit; the
// caller decides how errors are rendered through Options.OnError.
package middleware
