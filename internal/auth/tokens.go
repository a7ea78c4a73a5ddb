// Package auth guards the control plane: worker tokens for the /jobs
// endpoints and an optional API key for payout submission.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "bankbot"

// WorkerClaims identify a queue worker and the banks it may pull jobs for.
// An empty Banks list allows every bank.
type WorkerClaims struct {
	Worker string   `json:"worker"`
	Banks  []string `json:"banks,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the worker may handle bankKey.
func (c *WorkerClaims) Allows(bankKey string) bool {
	return len(c.Banks) == 0 || slices.Contains(c.Banks, bankKey)
}

// TokenIssuer signs and validates HS256 worker tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. ttl <= 0 means tokens never expire.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for worker restricted to banks.
func (i *TokenIssuer) Issue(worker string, banks []string) (string, error) {
	if worker == "" {
		return "", &domain.ErrValidation{Field: "worker", Message: "is required"}
	}
	now := i.now()
	claims := WorkerClaims{
		Worker: worker,
		Banks:  banks,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  worker,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Validate parses a token and returns its claims.
func (i *TokenIssuer) Validate(tokenString string) (*WorkerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &WorkerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &domain.ErrUnauthorized{Message: "token expired"}
		}
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}

	claims, ok := token.Claims.(*WorkerClaims)
	if !ok || !token.Valid || claims.Worker == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	return claims, nil
}

const bcryptCost = 12

// HashAPIKey returns the bcrypt hash to put in PAYOUT_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	if len(key) < 16 {
		return "", &domain.ErrValidation{Field: "apiKey", Message: "must be at least 16 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// APIKeyChecker verifies the X-API-Key header of payout submissions.
type APIKeyChecker struct {
	hash []byte
}

// NewAPIKeyChecker returns a checker for a bcrypt hash. An empty hash
// disables the check.
func NewAPIKeyChecker(hash string) *APIKeyChecker {
	return &APIKeyChecker{hash: []byte(hash)}
}

// Enabled reports whether a key is required.
func (c *APIKeyChecker) Enabled() bool { return len(c.hash) > 0 }

// Check compares key against the configured hash.
func (c *APIKeyChecker) Check(key string) error {
	if !c.Enabled() {
		return nil
	}
	if key == "" {
		return &domain.ErrUnauthorized{Message: "missing API key"}
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(key)); err != nil {
		return &domain.ErrUnauthorized{Message: "invalid API key"}
	}
	return nil
}
