package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/storage"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIssueAndValidateSession(t *testing.T) {
	store := newTestStore(t)
	eid := id.Random[id.PersonaID]().Upcast()

	token, err := IssueSession(store, eid, time.Hour)
	require.NoError(t, err)

	got, err := ValidateSession(store, token)
	require.NoError(t, err)
	assert.True(t, eid.Equal(got))
}

func TestValidateSessionExpired(t *testing.T) {
	store := newTestStore(t)
	eid := id.Random[id.PersonaID]().Upcast()

	token, err := IssueSession(store, eid, -time.Second)
	require.NoError(t, err)

	_, err = ValidateSession(store, token)
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrSessionExpired, ae.Kind)
}

func TestValidateSessionUnknownToken(t *testing.T) {
	store := newTestStore(t)
	_, err := ValidateSession(store, "00112233445566778899aabbccddeeff00112233")
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrSessionNotFound, ae.Kind)
}

func TestValidateSessionMalformedToken(t *testing.T) {
	store := newTestStore(t)
	_, err := ValidateSession(store, "not-hex")
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrTokenInvalid, ae.Kind)
}

func TestRevokeSession(t *testing.T) {
	store := newTestStore(t)
	eid := id.Random[id.PersonaID]().Upcast()

	token, err := IssueSession(store, eid, time.Hour)
	require.NoError(t, err)
	require.NoError(t, RevokeSession(store, token))

	_, err = ValidateSession(store, token)
	require.Error(t, err)
}
