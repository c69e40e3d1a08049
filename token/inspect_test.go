package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestInspectExtractsClaims(t *testing.T) {
	issued := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	expires := issued.Add(time.Hour)

	raw := signedToken(t, jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	})

	c, err := Inspect(raw)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if c.Subject != "user-1" {
		t.Fatalf("Subject = %q", c.Subject)
	}
	if !c.IssuedAt.Equal(issued) {
		t.Fatalf("IssuedAt = %v, want %v", c.IssuedAt, issued)
	}
	if !c.ExpiresAt.Equal(expires) {
		t.Fatalf("ExpiresAt = %v, want %v", c.ExpiresAt, expires)
	}
}

func TestInspectOpaqueToken(t *testing.T) {
	if _, err := Inspect("not-a-jwt-at-all"); err != ErrNotJWT {
		t.Fatalf("error = %v, want ErrNotJWT", err)
	}
}

func TestInspectMissingOptionalClaims(t *testing.T) {
	raw := signedToken(t, jwt.RegisteredClaims{Subject: "user-1"})

	c, err := Inspect(raw)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !c.IssuedAt.IsZero() || !c.ExpiresAt.IsZero() {
		t.Fatalf("absent claims must stay zero: %+v", c)
	}
}

func TestSkewExceeds(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	maxSkew := 5 * time.Minute

	cases := []struct {
		name     string
		issuedAt time.Time
		want     bool
	}{
		{"in sync", now, false},
		{"slightly behind", now.Add(-time.Minute), false},
		{"slightly ahead", now.Add(time.Minute), false},
		{"far behind", now.Add(-time.Hour), false},
		{"restored long after login", now.Add(-24 * time.Hour), false},
		{"far ahead", now.Add(time.Hour), true},
		{"just past the tolerance", now.Add(maxSkew + time.Second), true},
		{"no iat claim", time.Time{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SkewExceeds(Claims{IssuedAt: tc.issuedAt}, now, maxSkew)
			if got != tc.want {
				t.Fatalf("SkewExceeds = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSkewDisabled(t *testing.T) {
	now := time.Now()
	c := Claims{IssuedAt: now.Add(24 * time.Hour)}
	if SkewExceeds(c, now, 0) {
		t.Fatal("zero max skew must disable the check")
	}
}
