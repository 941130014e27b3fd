package manager

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

func newTestFSM(t *testing.T) (*FSM, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewFSM(store), store
}

func applyCmd(t *testing.T, f *FSM, op string, data any) any {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: raw})
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: cmd})
}

func TestFSMApplyDirectorySnapshot(t *testing.T) {
	f, store := newTestFSM(t)

	dir := &types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: "main"}
	require.NoError(t, store.PutDirectory(dir))

	snap := storage.DirectorySnapshot{
		DirKey: dir.Key,
		Namespaces: []*types.Namespace{
			{DirKey: dir.Key, ID: id.Random[id.ServiceID]().Upcast(), Label: "svc-a", EntryKind: types.NamespaceEntryService},
		},
	}
	result := applyCmd(t, f, opApplyDirectorySnapshot, snap)
	assert.Nil(t, result)

	ns, err := store.ListNamespacesByDirectory(dir.Key)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestFSMApplyMandateSubmissionCodeLifecycle(t *testing.T) {
	f, store := newTestFSM(t)

	fp := []byte("fingerprint-bytes")
	code := types.MandateSubmissionCode{
		CodeFingerprint: fp,
		CreatedByEid:    id.Random[id.ServiceID]().Upcast(),
		ExpiresAt:       time.Now().Add(time.Minute),
	}
	result := applyCmd(t, f, opPutMandateSubmissionCode, code)
	assert.Nil(t, result)

	got, err := store.GetMandateSubmissionCode(fp)
	require.NoError(t, err)
	assert.Equal(t, fp, got.CodeFingerprint)

	result = applyCmd(t, f, opDeleteMandateSubmission, fp)
	assert.Nil(t, result)

	_, err = store.GetMandateSubmissionCode(fp)
	assert.Error(t, err)
}

func TestFSMApplyAuthorityMandate(t *testing.T) {
	f, store := newTestFSM(t)

	mandateEid := id.Random[id.ServiceID]()
	m := types.AuthorityMandate{
		MandateEid:   mandateEid,
		GrantedByEid: id.Random[id.ServiceID](),
		PublicKey:    []byte("pubkey-der"),
		MandateType:  "local_ca",
	}
	result := applyCmd(t, f, opPutAuthorityMandate, m)
	assert.Nil(t, result)

	got, err := store.GetAuthorityMandate(mandateEid)
	require.NoError(t, err)
	assert.Equal(t, "local_ca", got.MandateType)
}

func TestFSMApplyUnknownOpReturnsError(t *testing.T) {
	f, _ := newTestFSM(t)
	result := applyCmd(t, f, "not_a_real_op", struct{}{})
	require.Error(t, result.(error))
}

func TestFSMSnapshotAndRestoreRoundtrip(t *testing.T) {
	f, store := newTestFSM(t)

	dir := &types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: "pre-snapshot"}
	require.NoError(t, store.PutDirectory(dir))

	snapshot, err := f.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	sink := &fakeSnapshotSink{Buffer: &buf}
	require.NoError(t, snapshot.Persist(sink))
	snapshot.Release()

	// mutate after the snapshot to confirm Restore reverts to the
	// snapshotted state, not whatever is currently on disk.
	require.NoError(t, store.PutDirectory(&types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: "post-snapshot"}))

	require.NoError(t, f.Restore(&fakeReadCloser{Reader: bytes.NewReader(buf.Bytes())}))

	dirs, err := store.ListDirectories()
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "pre-snapshot", dirs[0].Label)
}

type fakeSnapshotSink struct {
	*bytes.Buffer
}

func (s *fakeSnapshotSink) ID() string      { return "test-snapshot" }
func (s *fakeSnapshotSink) Cancel() error   { return nil }
func (s *fakeSnapshotSink) Close() error    { return nil }

type fakeReadCloser struct {
	*bytes.Reader
}

func (f *fakeReadCloser) Close() error { return nil }
