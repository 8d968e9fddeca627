package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, err := manager.GenerateToken("42", "ABC010101XYZ", false)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.PortalUserID)
	assert.Equal(t, "ABC010101XYZ", claims.TaxID)
	assert.False(t, claims.IsAdmin)
	assert.Equal(t, "SPPORTAL", claims.Issuer)
}

func TestVerifyTokenWithWrongSecret(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)

	token, err := manager.GenerateToken("42", "ABC010101XYZ", false)
	require.NoError(t, err)

	_, err = other.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Minute)

	token, err := manager.GenerateToken("42", "ABC010101XYZ", false)
	require.NoError(t, err)

	_, err = manager.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyGarbageToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	_, err := manager.VerifyToken("not-a-jwt")
	assert.Error(t, err)
}

func TestAdminClaim(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, err := manager.GenerateToken("admin-1", "", true)
	require.NoError(t, err)

	claims, err := manager.VerifyToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
}
