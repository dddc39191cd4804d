package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/polisproject/polisd/pkg/types"
)

// TokenTTL is the lifetime of an issued token: exp = iat + 24h.
const TokenTTL = 24 * time.Hour

// Claims is the JWT payload {sub, username, permissions, iat, exp}
// carried forward from the source unchanged.
type Claims struct {
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// JwtManager issues and validates HMAC-SHA256-signed tokens.
type JwtManager struct {
	secret []byte
}

// NewJwtManager returns a manager signing with secret.
func NewJwtManager(secret string) *JwtManager {
	return &JwtManager{secret: []byte(secret)}
}

// GenerateToken issues a signed token for userID/username/permissions,
// expiring TokenTTL from now.
func (m *JwtManager) GenerateToken(userID, username string, permissions []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(TokenTTL)

	claims := Claims{
		Username:    username,
		Permissions: append([]string{}, permissions...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, types.NewInternalError(fmt.Sprintf("auth: sign token: %v", err))
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature and expiry, returning the claims.
func (m *JwtManager) ValidateToken(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !parsed.Valid {
		return Claims{}, types.NewUnauthenticatedError("auth: invalid or expired token")
	}
	return claims, nil
}
