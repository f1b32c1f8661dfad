// Package auth verifies glasses bearer tokens and TPA API keys.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// Verifier checks bearer tokens issued by the identity provider. Tokens
// are HS256 JWTs whose payload carries the user's email.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type userClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// VerifyToken validates the token signature and expiry and returns the
// user id (email) it names.
func (v *Verifier) VerifyToken(token string) (string, error) {
	var claims userClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Email == "" {
		return "", fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}
	return claims.Email, nil
}

// HashKey returns the hex sha256 digest under which API keys are stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CheckKey compares a presented key against a stored digest in constant
// time.
func CheckKey(hash, key string) bool {
	sum := HashKey(key)
	return subtle.ConstantTimeCompare([]byte(sum), []byte(hash)) == 1
}
