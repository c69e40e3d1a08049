package internal

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Fingerprint derives a stable device fingerprint from caller-supplied
// components (platform, locale, screen class, and so on). The result is a
// compact base64url digest; component order matters.
func Fingerprint(components ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(components, "\x1f")))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
