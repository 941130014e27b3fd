package e2e

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/types"
)

// TestEncryptedIdentifierLookupByFingerprint exercises the same
// fingerprint-then-decrypt pattern pkg/auth's oauth/webauthn identity
// lookups use (security.EncryptObjIdent to store, Fingerprint plus
// GetObjIdentByFingerprint to find it again) directly against a
// bootstrapped instance's store and DEKs, and checks the lookup is
// case-sensitive: Authly never folds case on an encrypted identifier.
func TestEncryptedIdentifierLookupByFingerprint(t *testing.T) {
	n, _ := newSingleNodeClient(t)
	store := n.mgr.Store()
	deks := n.mgr.Deks()

	entity := id.Random[id.PersonaID]().Upcast()
	propID := id.BuiltinEmail.ToPropertyID()
	const plaintext = "alice@example.com"

	fp, nonce, ciph, err := security.EncryptObjIdent(deks, propID, []byte(plaintext))
	require.NoError(t, err)
	require.NoError(t, store.PutObjIdent(&types.ObjIdent{
		ObjID: entity, PropKey: id.BuiltinEmail.PropKey(), Fingerprint: fp, Nonce: nonce, Ciph: ciph,
	}))

	dek, ok := deks.Get(propID)
	require.True(t, ok)

	found, err := store.GetObjIdentByFingerprint(id.BuiltinEmail.PropKey(), security.Fingerprint(dek, []byte(plaintext)))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.True(t, found.ObjID.Equal(entity))

	decrypted, err := security.DecryptObjIdent(deks, propID, found.Nonce, found.Ciph)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(decrypted))

	_, err = store.GetObjIdentByFingerprint(id.BuiltinEmail.PropKey(), security.Fingerprint(dek, []byte("Alice@Example.com")))
	require.Error(t, err)
}
