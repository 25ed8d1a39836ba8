package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key"

type userClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, expiresIn time.Duration) string {
	t.Helper()
	claims := userClaims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func TestJWTVerifier_Verify(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	ctx := context.Background()

	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), time.Hour)
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), -time.Hour)
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), time.Hour)
	hs512 := signToken(t, jwt.SigningMethodHS512, []byte(testSecret), time.Hour)
	unsigned := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, time.Hour)

	tests := []struct {
		name       string
		credential string
		wantErr    bool
	}{
		{name: "valid HS256 token", credential: "Bearer " + valid},
		{name: "valid HS512 token", credential: "Bearer " + hs512},
		{name: "surrounding whitespace", credential: "  Bearer " + valid + "  "},
		{name: "expired token", credential: "Bearer " + expired, wantErr: true},
		{name: "wrong signing key", credential: "Bearer " + wrongKey, wantErr: true},
		{name: "none algorithm", credential: "Bearer " + unsigned, wantErr: true},
		{name: "missing bearer scheme", credential: valid, wantErr: true},
		{name: "empty token", credential: "Bearer ", wantErr: true},
		{name: "garbage", credential: "Bearer not.a.jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(ctx, tt.credential)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				if !errors.Is(err, ErrInvalidCredential) {
					t.Errorf("Expected ErrInvalidCredential, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
