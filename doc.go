// Package authsession manages the client-side authentication session lifecycle
// for the Platewise meal-planning applications: token lifetime tracking,
// scheduled refresh with deduplication, idle and expiry handling, session
// warning events, cross-client coordination, and login-attempt throttling with
// progressive delay and lockout.
//
// The package treats tokens as opaque strings with an expiry. The HTTP auth
// service is an external collaborator behind the [API] interface; UI layers
// consume lifecycle notifications through [EventSink] implementations.
//
// # Architecture boundaries
//
// authsession is the public surface. It exposes [Client], [Builder], [Config],
// and value types (Event, Status, MetricsSnapshot). Credential persistence
// lives in credstore, attempt accounting and lockout policy in lockout, and
// internal coordination (event dispatch, fingerprint hashing) under
// internal/.
//
// # What this package must NOT do
//
//   - Verify token signatures or make trust decisions from token payloads
//     (decoded claims are diagnostic only).
//   - Expose storage backends or encoding details in its public API.
//   - Perform I/O during construction ([Builder.Build] is allocation-only).
//
// # Concurrency contract
//
// Client methods are safe for concurrent use after Build. Refresh is
// deduplicated: any number of concurrent triggers (timer, liveness check,
// explicit extend) result in at most one in-flight network call.
package authsession
