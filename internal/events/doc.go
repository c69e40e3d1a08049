// Package events implements async dispatching of session lifecycle events.
//
// # Components
//
//   - [Sink] — interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] — closed tagged union of lifecycle notifications with typed payload fields.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide
// which events to emit — that responsibility belongs to the Client and the
// lifecycle manager.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authsession or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package events
