package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ParseTokenTimes extracts the issued-at and expiry claims from a
// server-issued access token. The signature is not verified: the client
// holds no signing key, and the token is only inspected to know when to
// force re-authentication. The server remains the authority on validity.
func ParseTokenTimes(tokenString string) (issuedAt, expiresAt time.Time, err error) {
	if tokenString == "" {
		return time.Time{}, time.Time{}, ErrNoAccessToken
	}

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrNoAccessToken, err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: no expiry claim", ErrNoAccessToken)
	}

	expiresAt = claims.ExpiresAt.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	return issuedAt, expiresAt, nil
}
