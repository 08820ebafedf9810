// Package internal contains helper utilities that are private to marketauth:
// secure random generation for opaque tokens, one-time codes and backup codes.
//
// # Sub-packages
//
//   - audit: async security-event dispatch (Dispatcher + Sink implementations)
//   - config: daemon configuration loading (viper)
//   - dbx: database/sql transaction helpers
//   - flows: flow orchestrators for the heavier Engine operations
//   - logging: zap logger construction
//   - rate: fixed-window rate limiter and its counter stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public marketauth API.
//   - Persist or log any token it generates.
package internal
