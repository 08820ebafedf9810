// Package store persists users, sessions, password-reset tokens and the
// security event log.
//
// Two implementations satisfy the engine's store interfaces:
//
//   - [Postgres]: database/sql over the pgx stdlib driver, schema managed by
//     embedded goose migrations ([Migrate]).
//   - [Memory]: a mutex-guarded in-process store for tests and local
//     development.
//
// Token columns only ever hold SHA-256 hashes. Conditional updates
// (reset-token consumption, backup-code consumption, TOTP counter advance)
// are single statements so that concurrent callers observe exactly one
// winner.
package store
