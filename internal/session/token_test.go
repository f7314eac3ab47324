package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// makeToken signs a minimal HS256 token with the given claim times.
func makeToken(t *testing.T, issuedAt, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key-not-verified-by-client"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func TestParseTokenTimes(t *testing.T) {
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := issuedAt.Add(24 * time.Hour)

	gotIssued, gotExpires, err := ParseTokenTimes(makeToken(t, issuedAt, expiresAt))
	if err != nil {
		t.Fatalf("ParseTokenTimes failed: %v", err)
	}

	if !gotIssued.Equal(issuedAt) {
		t.Errorf("Expected issued at %v, got %v", issuedAt, gotIssued)
	}
	if !gotExpires.Equal(expiresAt) {
		t.Errorf("Expected expires at %v, got %v", expiresAt, gotExpires)
	}
}

func TestParseTokenTimesEmpty(t *testing.T) {
	if _, _, err := ParseTokenTimes(""); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("Expected ErrNoAccessToken for empty token, got %v", err)
	}
}

func TestParseTokenTimesMalformed(t *testing.T) {
	if _, _, err := ParseTokenTimes("not.a.jwt"); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("Expected ErrNoAccessToken for malformed token, got %v", err)
	}
}

func TestParseTokenTimesNoExpiry(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-1",
	})
	signed, err := token.SignedString([]byte("key"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	if _, _, err := ParseTokenTimes(signed); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("Expected ErrNoAccessToken for token without expiry, got %v", err)
	}
}
