package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret, email string, opts ...func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{}
	if email != "" {
		claims["email"] = email
	}
	for _, opt := range opts {
		opt(claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestVerifyToken(t *testing.T) {
	v := NewVerifier(testSecret)

	email, err := v.VerifyToken(mintToken(t, testSecret, "isaiah@example.com"))
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if email != "isaiah@example.com" {
		t.Errorf("email = %q", email)
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	v := NewVerifier(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", mintToken(t, "other-secret", "a@b.c")},
		{"missing email", mintToken(t, testSecret, "")},
		{"expired", mintToken(t, testSecret, "a@b.c", func(c jwt.MapClaims) {
			c["exp"] = time.Now().Add(-time.Hour).Unix()
		})},
		{"garbage", "not.a.jwt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.VerifyToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerifyTokenRejectsUnsignedAlg(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone,
		jwt.MapClaims{"email": "a@b.c"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestCheckKey(t *testing.T) {
	hash := HashKey("sk-augment-123")
	if !CheckKey(hash, "sk-augment-123") {
		t.Error("matching key rejected")
	}
	if CheckKey(hash, "sk-augment-124") {
		t.Error("wrong key accepted")
	}
	if CheckKey("", "sk-augment-123") {
		t.Error("empty hash accepted")
	}
}
