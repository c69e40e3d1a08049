// Package internal contains helper utilities that are intentionally private to
// authsession, including device fingerprint hashing.
//
// # Sub-packages
//
//   - events — async lifecycle event dispatch (Dispatcher + Sink implementations)
//
// # What this package must NOT do
//
//   - Export types that appear in the public authsession API.
//   - Be imported by any package outside the authsession module.
package internal
