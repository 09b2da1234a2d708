package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = strings.Repeat("k", 32)

func TestIssueAndValidate(t *testing.T) {
	tokens, err := NewTokens(secret, nil)
	require.NoError(t, err)

	signed, err := tokens.Issue(context.Background(), "u1", time.Hour)
	require.NoError(t, err)

	claims, err := tokens.Validate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejectsBadTokens(t *testing.T) {
	tokens, err := NewTokens(secret, nil)
	require.NoError(t, err)
	ctx := context.Background()

	expired, err := tokens.Issue(ctx, "u1", -time.Minute)
	require.NoError(t, err)
	_, err = tokens.Validate(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, _ := NewTokens(strings.Repeat("x", 32), nil)
	foreign, err := other.Issue(ctx, "u1", time.Hour)
	require.NoError(t, err)
	_, err = tokens.Validate(ctx, foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Validate(ctx, none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = tokens.Validate(ctx, anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokensRequiresLongSecret(t *testing.T) {
	_, err := NewTokens("short", nil)
	assert.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearer("Bearer abc"))
	assert.Empty(t, ExtractBearer("Basic abc"))
	assert.Empty(t, ExtractBearer(""))
}
