// Package token provides diagnostic inspection of JWT access tokens.
//
// # Architecture boundaries
//
// Claims are decoded without signature verification and are used only for
// advisory checks (clock-skew detection, debug surfaces). Token validity is
// always decided by the auth service; nothing in this package may feed a
// trust decision.
//
// # What this package must NOT do
//
//   - Verify signatures or keys.
//   - Gate authentication or authorization on decoded claims.
package token
