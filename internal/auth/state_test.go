package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestStateService(t *testing.T) *StateService {
	t.Helper()
	s, err := NewStateService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewStateService: %v", err)
	}
	return s
}

func TestNewStateService_ShortSecret(t *testing.T) {
	if _, err := NewStateService("short"); err == nil {
		t.Fatal("NewStateService() should reject secrets shorter than 16 chars")
	}
}

func TestState_RoundTrip(t *testing.T) {
	s := newTestStateService(t)

	token, err := s.Generate(123456789012)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Generate() = %q, want a three-part JWT", token)
	}

	id, err := s.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if id != 123456789012 {
		t.Errorf("Validate() = %d, want 123456789012", id)
	}
}

func TestState_Unique(t *testing.T) {
	s := newTestStateService(t)
	a, _ := s.Generate(1)
	b, _ := s.Generate(1)
	if a == b {
		t.Error("two states for the same user are identical")
	}
}

func TestState_Expired(t *testing.T) {
	s := newTestStateService(t)
	token, err := s.GenerateWithDuration(1, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Validate(token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Errorf("Validate() error = %v, want expired", err)
	}
}

func TestState_Rejects(t *testing.T) {
	s := newTestStateService(t)
	other, _ := NewStateService("another-secret-of-16-chars")
	foreign, _ := other.Generate(1)

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(s.secret)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "1",
		Issuer:  stateIssuer,
	}).SignedString(s.secret)

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    stateIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-a-number",
		Issuer:    stateIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(s.secret)

	tests := map[string]string{
		"garbage":      "not.a.jwt",
		"empty":        "",
		"other secret": foreign,
		"wrong issuer": wrongIssuer,
		"no expiry":    noExpiry,
		"alg none":     noneAlg,
		"bad subject":  badSubject,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Validate(token); err == nil {
				t.Error("Validate() accepted the token")
			}
		})
	}
}
