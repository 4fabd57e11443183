package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-chars-long!!"

func TestProviderRoundTrip(t *testing.T) {
	p := NewProvider(testSecret, time.Hour)

	token, err := p.GenerateToken("player-1", "")
	require.NoError(t, err)

	claims, err := p.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.PlayerID)
	assert.Equal(t, RolePlayer, claims.Role)
	assert.False(t, claims.IsAdmin())
	assert.WithinDuration(t, claims.IssuedAt.Add(time.Hour), claims.ExpiresAt, time.Second)
}

func TestProviderRejects(t *testing.T) {
	p := NewProvider(testSecret, time.Hour)
	valid, err := p.GenerateToken("player-1", RoleAdmin)
	require.NoError(t, err)

	expired := NewProvider(testSecret, -time.Hour)
	expiredToken, err := expired.GenerateToken("player-1", RolePlayer)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "player-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name     string
		provider *Provider
		token    string
		want     error
	}{
		{name: "expired", provider: p, token: expiredToken, want: ErrExpiredToken},
		{name: "wrong secret", provider: NewProvider("another-secret", time.Hour), token: valid, want: ErrInvalidSignature},
		{name: "unsigned", provider: p, token: unsigned, want: ErrInvalidSignature},
		{name: "malformed", provider: p, token: "not.a.token", want: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.provider.ValidateToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerateTokenRequiresPlayer(t *testing.T) {
	_, err := NewProvider(testSecret, time.Hour).GenerateToken("", RolePlayer)
	assert.Error(t, err)
}

func TestTokenFromHeader(t *testing.T) {
	tests := []struct {
		header string
		token  string
		err    error
	}{
		{header: "Bearer abc", token: "abc"},
		{header: "JWT abc", token: "abc"},
		{header: "bearer   abc ", token: "abc"},
		{header: "", err: ErrMissingToken},
		{header: "Basic abc", err: ErrMissingToken},
		{header: "Bearer", err: ErrMissingToken},
	}
	for _, tt := range tests {
		token, err := TokenFromHeader(tt.header)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.token, token)
	}
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, PlayerID(ctx))

	ctx = WithClaims(ctx, &Claims{PlayerID: "p1", Role: RoleAdmin})
	assert.Equal(t, "p1", PlayerID(ctx))
	claims, ok := FromContext(ctx)
	require.True(t, ok)
	assert.True(t, claims.IsAdmin())
}
