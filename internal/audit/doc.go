// Package audit implements async event dispatching for the security event log.
//
// # Components
//
//   - [Sink]: interface for event consumers (store, zap, channel, JSON writer, no-op, fan-out).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured record with timestamp, type, user, session, IP, user agent, details.
//
// # Failure handling
//
// Sinks return errors. The dispatcher never surfaces them to the code that
// emitted the event; it counts them and hands them to Config.OnError.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit. That responsibility belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import marketauth.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
