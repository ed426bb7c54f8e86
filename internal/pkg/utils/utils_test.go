package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	dept := uint64(4)
	token, err := GenerateToken(Claims{
		UserID:       9,
		Username:     "alice",
		DepartmentID: &dept,
		Capabilities: []string{"files.delete"},
	}, testSecret, "go-docstore", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret, "go-docstore")
	require.NoError(t, err)
	assert.EqualValues(t, 9, claims.UserID)
	require.NotNil(t, claims.DepartmentID)
	assert.EqualValues(t, 4, *claims.DepartmentID)
	assert.Equal(t, []string{"files.delete"}, claims.Capabilities)
	assert.Equal(t, "9", claims.Subject)
}

func TestParseToken_Rejects(t *testing.T) {
	token, err := GenerateToken(Claims{UserID: 1}, testSecret, "go-docstore", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "another-secret-another-secret!!", "go-docstore")
	assert.Error(t, err)

	_, err = ParseToken(token, testSecret, "someone-else")
	assert.Error(t, err)

	expired, err := GenerateToken(Claims{UserID: 1}, testSecret, "go-docstore", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, testSecret, "go-docstore")
	assert.ErrorIs(t, err, ErrTokenExpired)

	anonymous, err := GenerateToken(Claims{}, testSecret, "go-docstore", time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(anonymous, testSecret, "go-docstore")
	assert.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("s3cret", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
