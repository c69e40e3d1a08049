package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned by [Inspect] when the access token is not a parseable
// JWT. Opaque tokens are legal; callers should treat this as "no claims", not
// as a failure.
var ErrNotJWT = errors.New("access token is not a JWT")

// Claims is the advisory subset of registered claims [Inspect] extracts.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Inspect decodes a JWT's registered claims without verifying the signature.
func Inspect(accessToken string) (Claims, error) {
	parser := jwt.NewParser()

	var rc jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(accessToken, &rc); err != nil {
		return Claims{}, ErrNotJWT
	}

	c := Claims{Subject: rc.Subject}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

// SkewExceeds reports whether the token's issued-at stamp lies in the future
// beyond maxSkew. Past-issued tokens are normal (any session restored after
// login has one); only a future iat suggests the local clock is wrong or the
// token is bad. Tokens without an iat claim never report skew.
func SkewExceeds(c Claims, now time.Time, maxSkew time.Duration) bool {
	if maxSkew <= 0 || c.IssuedAt.IsZero() {
		return false
	}
	return c.IssuedAt.Sub(now) > maxSkew
}
