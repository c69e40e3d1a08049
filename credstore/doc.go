// Package credstore provides durable credential-record persistence behind a
// small key/value [Backend] abstraction with a change feed for cross-client
// coordination.
//
// # Backends
//
//   - [MemoryBackend] — process-local, session-scoped storage. Two stores
//     sharing one instance observe each other's changes, which is also how
//     tests simulate multiple clients.
//   - [RedisBackend] — long-lived storage on Redis with a pub/sub change
//     feed, selected by the remember-me flag.
//
// # Architecture boundaries
//
// This package owns the [Store] (credential record lifecycle, validity
// arithmetic) and the [Backend] contract. It does NOT call the auth service,
// schedule timers, or interpret tokens — those responsibilities belong to the
// root package.
//
// # What this package must NOT do
//
//   - Return errors from read paths for corrupt records: a corrupt or
//     partial record degrades to absent and is cleared.
//   - Import authsession or lockout (no upward imports).
//   - Treat the change feed as authoritative: it is a best-effort signal,
//     not a lock.
package credstore
