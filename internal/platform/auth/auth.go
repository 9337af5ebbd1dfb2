// Package auth carries the caller identity supplied by the session layer.
// The service treats it as an opaque (user id, role code) pair.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

// UserContext is the authenticated caller.
type UserContext struct {
	UserID   string
	RoleCode string
}

type userKey struct{}

// WithUserContext stores the caller in ctx.
func WithUserContext(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, userKey{}, uc)
}

// GetUserContext returns the caller stored in ctx.
func GetUserContext(ctx context.Context) (UserContext, error) {
	uc, ok := ctx.Value(userKey{}).(UserContext)
	if !ok || uc.UserID == "" {
		return UserContext{}, errors.New(errors.ErrCodeUnauthorized, "unauthorized: no authenticated user")
	}
	return uc, nil
}

// Claims is the token payload issued by the session layer.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses a raw token (with or without a "Bearer " prefix).
func (v *Verifier) Verify(raw string) (UserContext, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return UserContext{}, errors.New(errors.ErrCodeUnauthorized, "unauthorized: missing bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return UserContext{}, errors.Wrap(err, errors.ErrCodeUnauthorized, "unauthorized: invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return UserContext{}, errors.New(errors.ErrCodeUnauthorized, "unauthorized: token has no subject")
	}
	if claims.Role == "" {
		return UserContext{}, errors.New(errors.ErrCodeUnauthorized, "unauthorized: token has no role")
	}
	return UserContext{UserID: sub, RoleCode: claims.Role}, nil
}

// Sign issues a token for uc. Used by tooling and tests.
func (v *Verifier) Sign(uc UserContext) (string, error) {
	claims := Claims{
		Role:             uc.RoleCode,
		RegisteredClaims: jwt.RegisteredClaims{Subject: uc.UserID},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
