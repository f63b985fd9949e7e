package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenManagerRoundTrip(t *testing.T) {
	m, err := NewTokenManager([]byte("test-signing-key-0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	token, err := m.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "admin" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != TokenIssuer {
		t.Fatalf("unexpected issuer: %q", claims.Issuer)
	}
}

func TestTokenManagerRejectsWrongKey(t *testing.T) {
	issuer, _ := NewTokenManager([]byte("key-one-key-one-key-one-key-one!"))
	verifier, _ := NewTokenManager([]byte("key-two-key-two-key-two-key-two!"))

	token, err := issuer.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestTokenManagerRejectsExpired(t *testing.T) {
	m, _ := NewTokenManager([]byte("test-signing-key-0123456789abcdef"))

	issued := time.Now().Add(-25 * time.Hour)
	m.now = func() time.Time { return issued }
	token, err := m.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	m.now = time.Now
	if _, err := m.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestTokenManagerRejectsGarbage(t *testing.T) {
	m, _ := NewTokenManager([]byte("test-signing-key-0123456789abcdef"))
	if _, err := m.Verify("not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestNewTokenManagerRequiresKey(t *testing.T) {
	if _, err := NewTokenManager(nil); !errors.Is(err, ErrSigningKeyMissing) {
		t.Fatalf("expected ErrSigningKeyMissing, got %v", err)
	}
}
