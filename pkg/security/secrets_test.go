package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/types"
)

type memMasterStore struct {
	master *types.MasterVersion
	deks   map[id.PropertyID]*types.PropDek
}

func newMemMasterStore() *memMasterStore {
	return &memMasterStore{deks: map[id.PropertyID]*types.PropDek{}}
}

func (m *memMasterStore) GetMasterVersion() (*types.MasterVersion, error) { return m.master, nil }
func (m *memMasterStore) PutMasterVersion(mv *types.MasterVersion) error  { m.master = mv; return nil }
func (m *memMasterStore) GetPropDek(propID id.PropertyID) (*types.PropDek, error) {
	return m.deks[propID], nil
}
func (m *memMasterStore) PutPropDek(d *types.PropDek) error {
	m.deks[d.PropID] = d
	return nil
}

func TestLoadDecryptedDeksLeaderBootstraps(t *testing.T) {
	store := newMemMasterStore()
	backend := NewDevBackend()

	deks, err := LoadDecryptedDeks(context.Background(), store, backend, "instance-1", true)
	require.NoError(t, err)

	for _, b := range id.AllEncryptedProps() {
		_, ok := deks.Get(b.ToPropertyID())
		assert.True(t, ok, "expected DEK for %s", b)
	}
	assert.NotNil(t, store.master)
	assert.Len(t, store.deks, len(id.AllEncryptedProps()))
}

func TestLoadDecryptedDeksFollowerFailsWithoutMaster(t *testing.T) {
	store := newMemMasterStore()
	backend := NewDevBackend()

	_, err := LoadDecryptedDeks(context.Background(), store, backend, "instance-1", false)
	require.Error(t, err)
}

func TestLoadDecryptedDeksFollowerFollowsLeader(t *testing.T) {
	store := newMemMasterStore()
	backend := NewDevBackend()

	_, err := LoadDecryptedDeks(context.Background(), store, backend, "instance-1", true)
	require.NoError(t, err)

	deks, err := LoadDecryptedDeks(context.Background(), store, backend, "instance-1", false)
	require.NoError(t, err)
	_, ok := deks.Get(id.BuiltinUsername.ToPropertyID())
	assert.True(t, ok)
}

func TestEncryptDecryptObjIdentRoundTrip(t *testing.T) {
	store := newMemMasterStore()
	backend := NewDevBackend()
	deks, err := LoadDecryptedDeks(context.Background(), store, backend, "instance-1", true)
	require.NoError(t, err)

	propID := id.BuiltinEmail.ToPropertyID()
	plaintext := []byte("alice@example.com")

	fp1, nonce, ciph, err := EncryptObjIdent(deks, propID, plaintext)
	require.NoError(t, err)

	decrypted, err := DecryptObjIdent(deks, propID, nonce, ciph)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	fp2, _, _, err := EncryptObjIdent(deks, propID, plaintext)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2, "fingerprint must be deterministic for the same plaintext+DEK")
}

func TestFingerprintDiffersFromAEADKeyMaterial(t *testing.T) {
	store := newMemMasterStore()
	backend := NewDevBackend()
	deks, err := LoadDecryptedDeks(context.Background(), store, backend, "instance-1", true)
	require.NoError(t, err)

	dek, ok := deks.Get(id.BuiltinEmail.ToPropertyID())
	require.True(t, ok)
	assert.NotEqual(t, dek.aeadKey, dek.fingerprintKey, "AEAD and fingerprint subkeys must be distinct")
}

func TestDecryptObjIdentFailsWithoutDek(t *testing.T) {
	deks := NewDecryptedDeks()
	_, err := DecryptObjIdent(deks, id.BuiltinEmail.ToPropertyID(), make([]byte, nonceSize), []byte("x"))
	require.Error(t, err)
	var ce *CryptoError
	assert.ErrorAs(t, err, &ce)
}
