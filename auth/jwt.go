package auth

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of JWT claims the sync layer cares about: identity for
// session hydration and expiry for token reuse. Signature verification is the
// backend's job; the client only decodes.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// DecodeClaims parses a JWT without verifying its signature and extracts the
// claims used for user hydration and expiry tracking.
func DecodeClaims(token string) (*Claims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	mapClaims := parsed.Claims.(gojwt.MapClaims)

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	return claims, nil
}
