package security

import (
	"context"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/types"
)

type memTlsKeyStore struct {
	rows map[types.TlsKeyPurpose]*types.TlsKey
}

func newMemTlsKeyStore() *memTlsKeyStore {
	return &memTlsKeyStore{rows: map[types.TlsKeyPurpose]*types.TlsKey{}}
}

func (m *memTlsKeyStore) GetTlsKey(purpose types.TlsKeyPurpose) (*types.TlsKey, error) {
	return m.rows[purpose], nil
}

func (m *memTlsKeyStore) PutTlsKey(key *types.TlsKey) error {
	m.rows[key.Purpose] = key
	return nil
}

func bootstrapTestDeks(t *testing.T) *DecryptedDeks {
	t.Helper()
	store := newMemMasterStore()
	backend := NewDevBackend()
	deks, err := LoadDecryptedDeks(context.Background(), store, backend, "instance-1", true)
	require.NoError(t, err)
	return deks
}

func TestBootstrapInstanceCreatesChain(t *testing.T) {
	deks := bootstrapTestDeks(t)
	tlsStore := newMemTlsKeyStore()
	eid := id.Random[id.ServiceID]()

	inst, err := BootstrapInstance(tlsStore, deks, eid, true)
	require.NoError(t, err)

	require.NoError(t, inst.VerifyChain())
	assert.NotNil(t, inst.LocalCA())
	assert.NotNil(t, inst.SelfIdentity())
	assert.NotNil(t, inst.TrustRootCA())
}

func TestBootstrapInstanceFollowerWithoutLeaderFails(t *testing.T) {
	tlsStore := newMemTlsKeyStore()
	deks := bootstrapTestDeks(t)
	eid := id.Random[id.ServiceID]()

	_, err := BootstrapInstance(tlsStore, deks, eid, false)
	require.Error(t, err)
}

func TestBootstrapInstanceFollowerLoadsLeaderRows(t *testing.T) {
	deks := bootstrapTestDeks(t)
	tlsStore := newMemTlsKeyStore()
	eid := id.Random[id.ServiceID]()

	_, err := BootstrapInstance(tlsStore, deks, eid, true)
	require.NoError(t, err)

	inst, err := BootstrapInstance(tlsStore, deks, eid, false)
	require.NoError(t, err)
	require.NoError(t, inst.VerifyChain())
}

func TestRotateSelfIdentityIssuesFreshCert(t *testing.T) {
	deks := bootstrapTestDeks(t)
	tlsStore := newMemTlsKeyStore()
	eid := id.Random[id.ServiceID]()

	inst, err := BootstrapInstance(tlsStore, deks, eid, true)
	require.NoError(t, err)
	original := inst.SelfIdentity().DER

	rotated, err := RotateSelfIdentity(tlsStore, deks, inst)
	require.NoError(t, err)
	require.NoError(t, rotated.VerifyChain())
	assert.NotEqual(t, original, rotated.SelfIdentity().DER)
}

func TestSignWithLocalCAEmbedsEntityID(t *testing.T) {
	deks := bootstrapTestDeks(t)
	tlsStore := newMemTlsKeyStore()
	eid := id.Random[id.ServiceID]()
	inst, err := BootstrapInstance(tlsStore, deks, eid, true)
	require.NoError(t, err)

	svcEid := id.Random[id.ServiceID]()
	svcKey, err := GenerateLocalCAKey()
	require.NoError(t, err)

	der, err := inst.SignWithLocalCA(CsrParams{Certifies: svcEid.Upcast(), Validity: identityValidity}, &svcKey.PublicKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	extracted, ok := EntityIDFromCert(cert)
	require.True(t, ok)
	assert.True(t, extracted.Equal(svcEid.Upcast()))
}
