package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

func newTestManager(t *testing.T, isLeader bool) *Manager {
	t.Helper()
	mgr, err := NewManager(context.Background(), &Config{
		EntityID: id.Random[id.ServiceID](),
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
		Backend:  security.NewDevBackend(),
		IsLeader: isLeader,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })
	return mgr
}

func TestBootstrapFormsSingleNodeClusterAndMintsIdentity(t *testing.T) {
	mgr := newTestManager(t, true)
	require.NoError(t, mgr.Bootstrap())

	require.Eventually(t, mgr.IsLeader, 5*time.Second, 10*time.Millisecond)

	inst := mgr.Instance()
	require.NotNil(t, inst)
	assert.NotNil(t, inst.LocalCA())
	assert.NotNil(t, inst.SelfIdentity())
	require.NoError(t, inst.VerifyChain())
}

func TestApplyDirectorySnapshotReplicatesToLocalStore(t *testing.T) {
	mgr := newTestManager(t, true)
	require.NoError(t, mgr.Bootstrap())
	require.Eventually(t, mgr.IsLeader, 5*time.Second, 10*time.Millisecond)

	dir := &types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: "fleet"}
	require.NoError(t, mgr.Store().PutDirectory(dir))

	snap := storage.DirectorySnapshot{
		DirKey: dir.Key,
		Namespaces: []*types.Namespace{
			{DirKey: dir.Key, ID: id.Random[id.ServiceID]().Upcast(), Label: "svc-a", EntryKind: types.NamespaceEntryService},
		},
	}
	require.NoError(t, mgr.ApplyDirectorySnapshot(snap))

	ns, err := mgr.Store().ListNamespacesByDirectory(dir.Key)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestSetInstancePublishesRotatedIdentity(t *testing.T) {
	mgr := newTestManager(t, true)
	require.NoError(t, mgr.Bootstrap())

	first := mgr.Instance()
	require.NotNil(t, first)

	rotated, err := security.RotateSelfIdentity(mgr.Store(), mgr.Deks(), first)
	require.NoError(t, err)
	mgr.SetInstance(rotated)

	assert.Same(t, rotated, mgr.Instance())
}

func TestMandateSubmissionExchange(t *testing.T) {
	mgr := newTestManager(t, true)
	require.NoError(t, mgr.Bootstrap())

	inst := mgr.Instance()
	require.NotNil(t, inst)

	code, err := IssueSubmissionCode(mgr.Store(), mgr.Deks(), inst.AuthlyEid.Upcast())
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	mandateKey, err := security.GenerateLocalCAKey()
	require.NoError(t, err)
	mandateEid := id.Random[id.ServiceID]()

	der, err := SubmitMandate(mgr.Store(), mgr.Deks(), inst, code, mandateEid, &mandateKey.PublicKey)
	require.NoError(t, err)
	assert.NotEmpty(t, der)

	// the code is single-use
	_, err = SubmitMandate(mgr.Store(), mgr.Deks(), inst, code, mandateEid, &mandateKey.PublicKey)
	assert.Error(t, err)

	granted, err := FetchMandate(mgr.Store(), mandateEid)
	require.NoError(t, err)
	assert.Equal(t, "local_ca", granted.MandateType)
}
