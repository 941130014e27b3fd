package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGetDirectory(t *testing.T) {
	s := newTestStore(t)

	d := &types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: "main"}
	require.NoError(t, s.PutDirectory(d))
	assert.NotZero(t, d.Key)

	got, err := s.GetDirectory(d.Key)
	require.NoError(t, err)
	assert.Equal(t, d.Label, got.Label)

	byID, err := s.GetDirectoryByID(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Key, byID.Key)

	dirs, err := s.ListDirectories()
	require.NoError(t, err)
	assert.Len(t, dirs, 1)

	require.NoError(t, s.DeleteDirectory(d.Key))
	_, err = s.GetDirectory(d.Key)
	assert.Error(t, err)
}

func TestApplyDirectorySnapshotReplacesRowsAndGarbageCollects(t *testing.T) {
	s := newTestStore(t)

	dir := &types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: "svc-directory"}
	require.NoError(t, s.PutDirectory(dir))

	svcA := id.Random[id.ServiceID]()
	svcB := id.Random[id.ServiceID]()

	first := DirectorySnapshot{
		DirKey: dir.Key,
		Namespaces: []*types.Namespace{
			{DirKey: dir.Key, ID: svcA.Upcast(), Label: "svc-a", EntryKind: types.NamespaceEntryService},
		},
		Services: []*types.Service{
			{Eid: svcA, DirKey: dir.Key},
			{Eid: svcB, DirKey: dir.Key},
		},
	}
	require.NoError(t, s.ApplyDirectorySnapshot(first))

	svcs, err := s.ListServicesByDirectory(dir.Key)
	require.NoError(t, err)
	assert.Len(t, svcs, 2)

	// Re-apply with svcB dropped: it must be garbage collected.
	second := DirectorySnapshot{
		DirKey: dir.Key,
		Namespaces: []*types.Namespace{
			{DirKey: dir.Key, ID: svcA.Upcast(), Label: "svc-a", EntryKind: types.NamespaceEntryService},
		},
		Services: []*types.Service{
			{Eid: svcA, DirKey: dir.Key},
		},
	}
	require.NoError(t, s.ApplyDirectorySnapshot(second))

	svcs, err = s.ListServicesByDirectory(dir.Key)
	require.NoError(t, err)
	require.Len(t, svcs, 1)
	assert.True(t, id.Eq(svcs[0].Eid, svcA))

	_, err = s.GetService(svcB)
	assert.Error(t, err)

	// Re-applying the identical snapshot is a no-op: svcA must survive.
	require.NoError(t, s.ApplyDirectorySnapshot(second))
	_, err = s.GetService(svcA)
	assert.NoError(t, err)
}

func TestSessionRoundTripAndExpiry(t *testing.T) {
	s := newTestStore(t)

	var tok [20]byte
	tok[0] = 0x42
	sess := &types.Session{Token: tok, Eid: id.Random[id.ServiceID]().Upcast(), ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.PutSession(sess))

	got, err := s.GetSession(tok)
	require.NoError(t, err)
	assert.True(t, got.Eid.Equal(sess.Eid))

	n, err := s.DeleteExpiredSessions()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSession(tok)
	assert.Error(t, err)
}

func TestTlsKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)

	key := &types.TlsKey{Purpose: types.TlsKeyPurposeLocalCA, EncryptedKey: []byte("ciphertext"), Nonce: []byte("nonce"), CertDER: []byte("der")}
	require.NoError(t, s.PutTlsKey(key))

	got, err := s.GetTlsKey(types.TlsKeyPurposeLocalCA)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key.CertDER, got.CertDER)

	missing, err := s.GetTlsKey(types.TlsKeyPurposeIdentity)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPropDekAndMasterVersion(t *testing.T) {
	s := newTestStore(t)

	mv, err := s.GetMasterVersion()
	require.NoError(t, err)
	assert.Nil(t, mv)

	require.NoError(t, s.PutMasterVersion(&types.MasterVersion{Kind: types.MasterVersionKindSecretsBackend, Version: "v1", CreatedAt: time.Now()}))
	mv, err = s.GetMasterVersion()
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.Equal(t, "v1", mv.Version)

	propID := id.Random[id.PropertyID]()
	require.NoError(t, s.PutPropDek(&types.PropDek{PropID: propID, Nonce: []byte("n"), Ciph: []byte("c"), CreatedAt: time.Now()}))
	dek, err := s.GetPropDek(propID)
	require.NoError(t, err)
	require.NotNil(t, dek)
	assert.Equal(t, []byte("c"), dek.Ciph)
}

func TestAuthorityMandateLifecycle(t *testing.T) {
	s := newTestStore(t)

	mandateEid := id.Random[id.ServiceID]()
	m := &types.AuthorityMandate{MandateEid: mandateEid, GrantedByEid: id.Random[id.ServiceID](), PublicKey: []byte("pub"), MandateType: "authority"}
	require.NoError(t, s.PutAuthorityMandate(m))

	got, err := s.GetAuthorityMandate(mandateEid)
	require.NoError(t, err)
	assert.Equal(t, "authority", got.MandateType)

	all, err := s.ListAuthorityMandates()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMandateSubmissionCodeRoundTrip(t *testing.T) {
	s := newTestStore(t)

	fp := []byte("fingerprint-bytes")
	code := &types.MandateSubmissionCode{CodeFingerprint: fp, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(10 * time.Minute)}
	require.NoError(t, s.PutMandateSubmissionCode(code))

	got, err := s.GetMandateSubmissionCode(fp)
	require.NoError(t, err)
	assert.Equal(t, fp, got.CodeFingerprint)

	require.NoError(t, s.DeleteMandateSubmissionCode(fp))
	_, err = s.GetMandateSubmissionCode(fp)
	assert.Error(t, err)
}
