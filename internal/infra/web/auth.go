package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthManager validates the HS256 bearer tokens that identify callers.
// The token subject is the caller principal; roles are resolved from the
// role store, never trusted from the token itself.
type AuthManager struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthManager(secret string, ttl time.Duration) *AuthManager {
	return &AuthManager{secret: []byte(secret), ttl: ttl}
}

type CallerClaims struct {
	jwt.RegisteredClaims
}

// Mint issues a token for a principal. Used by operational tooling and tests.
func (a *AuthManager) Mint(principal string) (string, error) {
	now := time.Now()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Subject:   principal,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseFromRequest extracts the caller principal from the Authorization
// header. An absent or invalid token yields the anonymous principal "".
func (a *AuthManager) ParseFromRequest(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return "", errors.New("missing token")
	}
	if !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return "", errors.New("malformed authorization header")
	}
	claims := &CallerClaims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}
