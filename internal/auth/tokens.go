package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenIssuer is the JWT issuer for dashboard session tokens.
	TokenIssuer = "strato"

	// TokenAudience is the JWT audience for dashboard session tokens.
	TokenAudience = "strato-dashboard"

	// SessionLifetime is how long an issued session token stays valid.
	SessionLifetime = 24 * time.Hour
)

var (
	ErrSigningKeyMissing = errors.New("session signing key is not configured")
	ErrTokenInvalid      = errors.New("invalid session token")
)

// SessionClaims are carried by dashboard session tokens.
type SessionClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies session tokens with an HMAC key.
type TokenManager struct {
	key []byte
	now func() time.Time
}

// NewTokenManager creates a manager for the given signing key.
func NewTokenManager(key []byte) (*TokenManager, error) {
	if len(key) == 0 {
		return nil, ErrSigningKeyMissing
	}
	return &TokenManager{key: key, now: time.Now}, nil
}

// Issue creates a signed session token for the user.
func (m *TokenManager) Issue(username, role string) (string, error) {
	now := m.now()
	claims := SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses a session token and returns its claims. The signing method
// is pinned to HS256; issuer and audience are enforced.
func (m *TokenManager) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return m.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
