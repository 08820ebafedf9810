// Package flows contains pure-function orchestrators for the Engine's
// multi-step operations.
//
// Each flow function (RunValidateSession, RunRevokeSession,
// RunRequestPasswordReset, RunConsumePasswordReset, RunVerifySecondFactor)
// accepts a typed dependency struct of function fields and returns results
// without side-effects beyond those dependencies. Tests drive them with
// in-memory fakes; the Engine wires them to its store, mailer and audit
// dispatcher.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the store, rate limiter, mailer, audit
// dispatcher and metrics. They do NOT own any of these resources; ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import marketauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
