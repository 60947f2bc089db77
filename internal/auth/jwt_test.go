package auth

import (
	"testing"
	"time"

	"soilify/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyResolvesRole(t *testing.T) {
	v := NewVerifier("secret", []string{" Owner@Soilify.in "})

	token, err := v.Issue(&models.Identity{UserID: "u1", Email: "owner@soilify.in", Phone: "900"}, time.Hour)
	require.NoError(t, err)
	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "900", id.Phone)
	assert.True(t, id.IsAdmin())

	token, err = v.Issue(&models.Identity{UserID: "u2", Email: "farmer@example.com"}, time.Hour)
	require.NoError(t, err)
	id, err = v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, id.Role)
	assert.False(t, id.IsAdmin())
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewVerifier("secret", nil)

	expired, err := v.Issue(&models.Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier("other", nil).Issue(&models.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := v.Issue(&models.Identity{Email: "x@example.com"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoleForEmptyEmail(t *testing.T) {
	v := NewVerifier("secret", []string{"", "admin@soilify.in"})
	assert.Equal(t, models.RoleCustomer, v.RoleFor(""))
	assert.Equal(t, models.RoleAdmin, v.RoleFor("ADMIN@soilify.in"))
}
