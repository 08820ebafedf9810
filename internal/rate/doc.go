// Package rate implements the per-(endpoint class, client IP) fixed-window
// request limiter that guards unauthenticated authentication endpoints.
//
// # Window semantics
//
// Fixed-window counters: the first hit on a key creates it with the window
// as TTL; each request increments; a request is limited once the count
// exceeds the class threshold. Keys look like
//
//	rl:<class>:<ip>
//
// # Counter stores
//
//   - [MemoryCounter]: mutex-guarded map with lazy expiry and an injected
//     clock. Single process only.
//   - [RedisCounter]: INCR + PEXPIRE in one Lua script so the window is
//     shared by every instance behind a load balancer.
//
// # What this package must NOT do
//
//   - Emit audit events or map errors to HTTP statuses (the engine does).
//   - Be imported outside the marketauth module.
package rate
