// Package lockout provides login-attempt accounting and the lockout policy
// engine: per-account failure counting, progressive inter-attempt delay,
// temporary lockout, and advisory suspicious-activity heuristics.
//
// # Components
//
//   - [Ledger] — capped, append-only log of login attempts plus the derived
//     per-account lockout records, persisted through a credstore.Backend.
//   - policy functions — pure and deterministic given ledger state and a
//     clock: [Delay], [SuspicionReasons], and status derivation.
//
// # Architecture boundaries
//
// This package decides lockout status and delays; it never performs network
// I/O and never blocks a login itself — enforcement belongs to the Client.
// Suspicion heuristics are advisory only.
//
// # Known limitation
//
// Ledger updates are read-modify-write over a shared backend. Concurrent
// clients can interleave and lose attempts; the policy is best-effort, not
// linearizable.
package lockout
