// Package auth validates the bearer tokens that identify document owners.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	issuer        = "arcane-scribe"
	accessPrefix  = "access:"
	minSecretSize = 32
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevoked      = errors.New("token revoked or expired")
)

// Claims carries the owner identity. UserID is the owner id of every
// collection the caller touches.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Tokens signs and validates HS256 access tokens. When rdb is set, a token
// is only valid while its jti is present in Redis.
type Tokens struct {
	secret []byte
	rdb    *redis.Client
}

func NewTokens(secret string, rdb *redis.Client) (*Tokens, error) {
	if len(secret) < minSecretSize {
		return nil, fmt.Errorf("ACCESS_SECRET must be configured and at least %d characters", minSecretSize)
	}
	return &Tokens{secret: []byte(secret), rdb: rdb}, nil
}

// Issue signs an access token for userID and registers its jti.
func (t *Tokens) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", err
	}

	if t.rdb != nil {
		if err := t.rdb.Set(ctx, accessPrefix+jti, userID, ttl).Err(); err != nil {
			return "", fmt.Errorf("register token: %w", err)
		}
	}
	return signed, nil
}

func (t *Tokens) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}

	if t.rdb != nil {
		exists, err := t.rdb.Exists(ctx, accessPrefix+claims.ID).Result()
		if err != nil || exists != 1 {
			return nil, ErrRevoked
		}
	}
	return claims, nil
}

func (t *Tokens) Revoke(ctx context.Context, jti string) error {
	if t.rdb == nil {
		return nil
	}
	return t.rdb.Del(ctx, accessPrefix+jti).Err()
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header.
func ExtractBearer(authHeader string) string {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
