package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the claims so refresh tokens cannot authenticate
// API requests.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken indicates a token that failed parsing or validation.
var ErrInvalidToken = errors.New("security: invalid token")

// UserClaims are the JWT claims issued for user sessions.
type UserClaims struct {
	UserID    uint64 `json:"uid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// IssueToken signs a token of the given type for the user.
func IssueToken(secret string, userID uint64, tokenType string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("security: empty jwt secret")
	}
	now := time.Now().UTC()
	claims := UserClaims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("security: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a signed token and returns its claims. The expected
// token type must match.
func ParseToken(secret, raw, expectedType string) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("security: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expectedType || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
