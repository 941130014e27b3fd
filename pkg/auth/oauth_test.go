package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
)

func TestLinkAndResolveForeignSubject(t *testing.T) {
	store := newTestStore(t)
	deks := newTestDeks(t, store)
	persona := id.Random[id.PersonaID]().Upcast()

	require.NoError(t, LinkForeignSubject(store, deks, persona, "github", "octocat"))

	got, err := ResolveForeignSubject(store, deks, "github", "octocat")
	require.NoError(t, err)
	assert.True(t, persona.Equal(got))
}

func TestResolveForeignSubjectUnknown(t *testing.T) {
	store := newTestStore(t)
	deks := newTestDeks(t, store)

	_, err := ResolveForeignSubject(store, deks, "github", "nobody")
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrInvalidCredentials, ae.Kind)
}

func TestResolveForeignSubjectDistinguishesProvider(t *testing.T) {
	store := newTestStore(t)
	deks := newTestDeks(t, store)
	persona := id.Random[id.PersonaID]().Upcast()

	require.NoError(t, LinkForeignSubject(store, deks, persona, "github", "octocat"))

	_, err := ResolveForeignSubject(store, deks, "gitlab", "octocat")
	require.Error(t, err)
}
