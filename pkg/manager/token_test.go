package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManagerGenerateAndValidate(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.GenerateToken("voter", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, jt.Token)

	role, err := tm.ValidateToken(jt.Token)
	require.NoError(t, err)
	assert.Equal(t, "voter", role)
}

func TestTokenManagerRejectsUnknownToken(t *testing.T) {
	tm := NewTokenManager()
	_, err := tm.ValidateToken("does-not-exist")
	assert.Error(t, err)
}

func TestTokenManagerRejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.GenerateToken("nonvoter", -time.Second)
	require.NoError(t, err)

	_, err = tm.ValidateToken(jt.Token)
	assert.Error(t, err)
}

func TestTokenManagerRevokeToken(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.GenerateToken("voter", time.Minute)
	require.NoError(t, err)

	tm.RevokeToken(jt.Token)
	_, err = tm.ValidateToken(jt.Token)
	assert.Error(t, err)
}

func TestTokenManagerCleanupExpiredTokens(t *testing.T) {
	tm := NewTokenManager()
	expired, err := tm.GenerateToken("voter", -time.Second)
	require.NoError(t, err)
	active, err := tm.GenerateToken("voter", time.Minute)
	require.NoError(t, err)

	tm.CleanupExpiredTokens()

	tokens := tm.ListTokens()
	require.Len(t, tokens, 1)
	assert.Equal(t, active.Token, tokens[0].Token)
	assert.NotEqual(t, expired.Token, tokens[0].Token)
}
