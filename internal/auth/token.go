// Package auth issues and verifies access tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ainopay/internal/core"
)

const issuer = "ainopay"

// Claims is the verified identity carried by an access token.
type Claims struct {
	UserID    uuid.UUID
	Email     string
	Role      core.Role
	ExpiresAt time.Time
}

// accessClaims is the internal claims type used for JWT encoding.
type accessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// TokenManager signs HS256 access tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager returns a manager signing with secret; tokens live for ttl.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid token ttl %v", ttl)
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL is the access-token lifetime.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Generate signs a token for user. The returned duration is the token lifetime.
func (m *TokenManager) Generate(user core.User) (string, time.Duration, error) {
	now := m.now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   string(user.Role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, m.ttl, nil
}

// Validate parses token and returns its claims. Any failure is reported as
// core.ErrTokenExpired or core.ErrInvalidToken.
func (m *TokenManager) Validate(token string) (Claims, error) {
	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, core.ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	id, err := uuid.Parse(parsed.UserID)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad subject", core.ErrInvalidToken)
	}
	role := core.Role(parsed.Role)
	if !role.Valid() {
		return Claims{}, fmt.Errorf("%w: bad role", core.ErrInvalidToken)
	}
	return Claims{
		UserID:    id,
		Email:     parsed.Email,
		Role:      role,
		ExpiresAt: parsed.ExpiresAt.Time,
	}, nil
}
