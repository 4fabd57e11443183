// Package auth issues and verifies the bearer tokens that identify the acting player.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is what a token holder may do beyond acting as itself.
type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// Claims identifies the caller of a request.
type Claims struct {
	PlayerID  string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsAdmin reports whether the caller may perform administrative operations.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type ladderClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Provider signs and validates HS256 tokens with a shared secret.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewProvider creates a token provider
func NewProvider(secret string, ttl time.Duration) *Provider {
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken creates a signed token for a player
func (p *Provider) GenerateToken(playerID string, role Role) (string, error) {
	if playerID == "" {
		return "", fmt.Errorf("player id is required")
	}
	if role == "" {
		role = RolePlayer
	}

	now := p.now()
	claims := &ladderClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   playerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a token and returns the caller it identifies
func (p *Provider) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ladderClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}

	lc, ok := token.Claims.(*ladderClaims)
	if !ok || !token.Valid || lc.Subject == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{PlayerID: lc.Subject, Role: Role(lc.Role)}
	if claims.Role == "" {
		claims.Role = RolePlayer
	}
	if lc.IssuedAt != nil {
		claims.IssuedAt = lc.IssuedAt.Time
	}
	if lc.ExpiresAt != nil {
		claims.ExpiresAt = lc.ExpiresAt.Time
	}
	return claims, nil
}

// TokenFromHeader extracts the token from an Authorization header. Both the
// "Bearer" and "JWT" schemes are accepted.
func TokenFromHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", ErrMissingToken
	}
	switch strings.ToLower(scheme) {
	case "bearer", "jwt":
	default:
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type contextKey struct{}

// WithClaims stores the caller in a context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the caller stored by WithClaims
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

// PlayerID returns the acting player's ID, or "" for anonymous requests
func PlayerID(ctx context.Context) string {
	if claims, ok := FromContext(ctx); ok {
		return claims.PlayerID
	}
	return ""
}
