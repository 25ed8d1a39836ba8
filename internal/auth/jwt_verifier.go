package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier checks HMAC-signed bearer tokens such as those issued by the
// users service.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		leeway: 30 * time.Second,
	}
}

// Verify implements interfaces.CredentialVerifier.
func (v *JWTVerifier) Verify(_ context.Context, credential string) error {
	tokenString, found := strings.CutPrefix(strings.TrimSpace(credential), "Bearer ")
	if !found {
		return fmt.Errorf("%w: expected bearer token", ErrInvalidCredential)
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return fmt.Errorf("%w: empty bearer token", ErrInvalidCredential)
	}

	token, err := jwt.Parse(tokenString, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: token not valid", ErrInvalidCredential)
	}
	return nil
}
