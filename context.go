package authsession

import (
	"context"

	"github.com/platewise/authsession/internal"
)

type userAgentContextKey struct{}
type fingerprintContextKey struct{}

// WithUserAgent attaches the caller's user-agent string to ctx. The attempt
// ledger records it per login attempt and the suspicious-activity heuristics
// count distinct values.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceFingerprint attaches a recomputed device fingerprint to ctx. The
// lifecycle manager compares it against the fingerprint captured at session
// start and emits an advisory suspicious-activity event on drift.
func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, fingerprintContextKey{}, fingerprint)
}

// ComputeFingerprint hashes caller-supplied device traits (platform, locale,
// screen class, and so on) into the opaque fingerprint string accepted by
// [WithDeviceFingerprint]. Component order matters.
func ComputeFingerprint(components ...string) string {
	return internal.Fingerprint(components...)
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func fingerprintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	fingerprint, _ := ctx.Value(fingerprintContextKey{}).(string)
	return fingerprint
}
