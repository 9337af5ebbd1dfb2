package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	token, err := v.Sign(UserContext{UserID: "u-7", RoleCode: "vp_admin"})
	require.NoError(t, err)

	uc, err := v.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, UserContext{UserID: "u-7", RoleCode: "vp_admin"}, uc)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("one").Sign(UserContext{UserID: "u-7", RoleCode: "vp_admin"})
	require.NoError(t, err)

	_, err = NewVerifier("two").Verify(token)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

func TestVerifierRequiresRole(t *testing.T) {
	v := NewVerifier("s3cret")
	token, err := v.Sign(UserContext{UserID: "u-7"})
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no role")
}

func TestVerifierMissingToken(t *testing.T) {
	_, err := NewVerifier("s3cret").Verify("Bearer ")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

func TestUserContext(t *testing.T) {
	_, err := GetUserContext(context.Background())
	require.Error(t, err)

	ctx := WithUserContext(context.Background(), UserContext{UserID: "u-1", RoleCode: "pmo_head"})
	uc, err := GetUserContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pmo_head", uc.RoleCode)
}
