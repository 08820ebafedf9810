// Package session holds the server-side session model and the opaque bearer
// token helpers used to issue and look up sessions.
//
// # Tokens
//
// A session token is 32 bytes of crypto/rand output encoded as base64url.
// The raw token leaves the process exactly once, in the cookie set after
// login or registration. Stores only ever see [HashToken] output.
//
// # Architecture boundaries
//
// This package owns the [Session] and [Summary] types. It does NOT persist
// sessions or decide validity policy; persistence lives in the store package
// and validity (expiry against an injected clock) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Import marketauth or store (no upward imports).
//   - Log or persist raw tokens.
package session
