// Package e2e exercises a composed authlyd (manager + api.Server) against
// the real client, in-process, the way pkg/client's own tests do — the
// teacher's test/framework spins up whole VMs/containers and drives
// compiled binaries, which this repo has no equivalent of building (the
// toolchain never runs here), so the harness below composes the same
// components the daemon's main.go wires together and skips the process
// boundary.
package e2e

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/api"
	"github.com/protojour/authly/pkg/client"
	"github.com/protojour/authly/pkg/events"
	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/manager"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

// literalOf renders a against the single-letter prefix pkg/id's document
// parser expects ("s.<hex>", "e.<hex>", ...), using its own copy of the
// kind->prefix table that pkg/id keeps unexported in literalPrefix.
func literalOf(a id.Any) string {
	var prefix string
	switch a.Kind() {
	case id.KindPersona:
		prefix = "e"
	case id.KindService:
		prefix = "s"
	case id.KindDirectory:
		prefix = "d"
	case id.KindAttribute:
		prefix = "a"
	case id.KindProperty:
		prefix = "p"
	case id.KindPolicy:
		prefix = "pol"
	case id.KindDomain:
		prefix = "dom"
	default:
		prefix = "k"
	}
	blob := a.ToBlob()
	return fmt.Sprintf("%s.%x", prefix, blob)
}

// reserveLoopbackAddr grabs an ephemeral port, mirroring pkg/client's test
// helper of the same name.
func reserveLoopbackAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	_ = lis.Close()
	return addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

// node bundles one composed authlyd-equivalent instance: its manager, its
// gRPC server, and the address it listens on.
type node struct {
	mgr     *manager.Manager
	srv     *api.Server
	broker  *events.Broker
	addr    string
	backend security.SecretsBackend
}

// newBootstrapNode composes a leader node the way cmd/authlyd's serveCmd
// does for a brand-new cluster: NewManager, Bootstrap, then wrap it in an
// api.Server.
func newBootstrapNode(t *testing.T) *node {
	t.Helper()
	backend := security.NewDevBackend()
	mgr, err := manager.NewManager(context.Background(), &manager.Config{
		EntityID: id.Random[id.ServiceID](),
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
		Backend:  backend,
		IsLeader: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })
	require.NoError(t, mgr.Bootstrap())
	require.Eventually(t, mgr.IsLeader, 5*time.Second, 10*time.Millisecond)

	broker := events.NewBroker()
	dispatcher := events.NewServiceEventDispatcher(context.Background())
	srv, err := api.NewServer(mgr, broker, dispatcher)
	require.NoError(t, err)

	addr := reserveLoopbackAddr(t)
	go func() { _ = srv.Start(addr) }()
	t.Cleanup(srv.Stop)
	waitForListener(t, addr)

	return &node{mgr: mgr, srv: srv, broker: broker, addr: addr, backend: backend}
}

// writeClientCertDir signs a fresh client identity under n's local CA,
// mirroring pkg/client's test helper.
func writeClientCertDir(t *testing.T, mgr *manager.Manager) string {
	t.Helper()
	inst := mgr.Instance()
	require.NotNil(t, inst)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := inst.SignWithLocalCA(security.CsrParams{
		Certifies: id.Random[id.ServiceID]().Upcast(),
		Validity:  time.Hour,
	}, &key.PublicKey)
	require.NoError(t, err)

	root := inst.TrustRootCA()
	require.NotNil(t, root)

	dir := t.TempDir()
	writePEM(t, filepath.Join(dir, "cert.pem"), "CERTIFICATE", der)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	writePEM(t, filepath.Join(dir, "key.pem"), "EC PRIVATE KEY", keyDER)
	writePEM(t, filepath.Join(dir, "ca.pem"), "CERTIFICATE", root.DER)
	return dir
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}))
}

// newSingleNodeClient bootstraps a node and returns a client already
// holding a signed identity against it, for scenarios that only need one
// instance (S1-S5).
func newSingleNodeClient(t *testing.T) (*node, *client.Client) {
	t.Helper()
	n := newBootstrapNode(t)
	certDir := writeClientCertDir(t, n.mgr)
	c, err := client.NewClient(n.addr, certDir)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return n, c
}

// seedJoinBundle copies the encrypted-at-rest rows a joining node needs
// before it can ever load its own DecryptedDeks or local CA
// (pkg/security.acquireMaster/genOrLoadPropDek/loadOrCreateLocalCA all
// refuse to mint fresh material on a non-leader, spec §4.2/§4.3) —
// the master-version pointer, every property DEK row, and the local CA's
// TlsKey row. A real deployment ships this as an operator-transferred
// bootstrap bundle (snapshot restore) rather than over Raft, since none of
// it is ever written through Manager.Apply; this reproduces that hand-off
// directly against the follower's not-yet-opened store.
func seedJoinBundle(t *testing.T, leaderStore storage.Store, dataDir string) {
	t.Helper()
	followerStore, err := storage.NewBoltStore(dataDir)
	require.NoError(t, err)
	defer followerStore.Close()

	mv, err := leaderStore.GetMasterVersion()
	require.NoError(t, err)
	require.NotNil(t, mv)
	require.NoError(t, followerStore.PutMasterVersion(mv))

	for _, b := range id.AllEncryptedProps() {
		row, err := leaderStore.GetPropDek(b.ToPropertyID())
		require.NoError(t, err)
		if row != nil {
			require.NoError(t, followerStore.PutPropDek(row))
		}
	}

	caRow, err := leaderStore.GetTlsKey(types.TlsKeyPurposeLocalCA)
	require.NoError(t, err)
	require.NotNil(t, caRow)
	require.NoError(t, followerStore.PutTlsKey(caRow))
}

// newFollowerNode composes a second instance sharing the leader's secrets
// backend and seeded bootstrap bundle, has the leader add it as a Raft
// voter, then starts its own api.Server — mirroring what cmd/authlyd's
// join path does across two real processes, minus the process boundary.
func newFollowerNode(t *testing.T, leader *node, backend security.SecretsBackend) *node {
	t.Helper()
	eid := id.Random[id.ServiceID]()
	raftAddr := reserveLoopbackAddr(t)
	dataDir := t.TempDir()

	seedJoinBundle(t, leader.mgr.Store(), dataDir)

	mgr2, err := manager.NewManager(context.Background(), &manager.Config{
		EntityID: eid,
		BindAddr: raftAddr,
		DataDir:  dataDir,
		Backend:  backend,
		IsLeader: false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr2.Shutdown() })

	require.NoError(t, leader.mgr.AddVoter(eid.String(), raftAddr))
	require.NoError(t, mgr2.Join())
	require.Eventually(t, func() bool {
		servers, err := leader.mgr.GetClusterServers()
		return err == nil && len(servers) == 2
	}, 5*time.Second, 20*time.Millisecond)

	broker := events.NewBroker()
	dispatcher := events.NewServiceEventDispatcher(context.Background())
	srv, err := api.NewServer(mgr2, broker, dispatcher)
	require.NoError(t, err)

	addr := reserveLoopbackAddr(t)
	go func() { _ = srv.Start(addr) }()
	t.Cleanup(srv.Stop)
	waitForListener(t, addr)

	return &node{mgr: mgr2, srv: srv, broker: broker, addr: addr}
}

// findNamespaceID looks up one namespace row's resolved entity ID by
// label, failing the test if the label was never applied.
func findNamespaceID(t *testing.T, namespaces []*types.Namespace, label string) id.Any {
	t.Helper()
	for _, ns := range namespaces {
		if ns.Label == label {
			return ns.ID
		}
	}
	t.Fatalf("namespace %q not found", label)
	return id.Any{}
}

func dialCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
