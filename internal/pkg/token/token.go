// Package token inspects auth tokens handed to the client. Tokens are issued
// and validated by the backend; the client only checks expiry up front to
// avoid dialing a tracking channel that will be rejected.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiresAt returns the exp claim of a JWT. The signature is deliberately not
// verified; the claim is advisory only. ok is false for opaque (non-JWT)
// tokens and for tokens without an exp claim.
func ExpiresAt(raw string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the token carries an exp claim in the past. Opaque
// tokens are never considered expired here; the backend remains the authority.
func Expired(raw string, now time.Time) bool {
	exp, ok := ExpiresAt(raw)
	if !ok {
		return false
	}
	return exp.Before(now)
}
