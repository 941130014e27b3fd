package mtls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
)

func newTestIdentityCert(t *testing.T) (*x509.Certificate, id.ServiceID) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	backend := security.NewDevBackend()
	deks, err := security.LoadDecryptedDeks(context.Background(), store, backend, "peer-test", true)
	require.NoError(t, err)

	eid := id.Random[id.ServiceID]()
	inst, err := security.BootstrapInstance(store, deks, eid, true)
	require.NoError(t, err)

	svcEid := id.Random[id.ServiceID]()
	svcKey, err := security.GenerateLocalCAKey()
	require.NoError(t, err)

	der, err := inst.SignWithLocalCA(security.CsrParams{Certifies: svcEid.Upcast(), Validity: time.Hour}, &svcKey.PublicKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, svcEid
}

func TestExtractPeerEntityFromVerifiedCert(t *testing.T) {
	cert, svcEid := newTestIdentityCert(t)

	ctx := peer.NewContext(context.Background(), &peer.Peer{
		AuthInfo: credentials.TLSInfo{State: tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}},
	})

	got := extractPeerEntity(ctx)
	eid, ok := PeerServiceEntity(got)
	require.True(t, ok)
	assert.True(t, eid.Upcast().Equal(svcEid.Upcast()))
}

func TestExtractPeerEntityAbsentWithoutCert(t *testing.T) {
	ctx := peer.NewContext(context.Background(), &peer.Peer{AuthInfo: credentials.TLSInfo{}})
	got := extractPeerEntity(ctx)
	_, ok := PeerServiceEntity(got)
	assert.False(t, ok)
}

func TestExtractPeerEntityAbsentWithoutPeer(t *testing.T) {
	_, ok := PeerServiceEntity(context.Background())
	assert.False(t, ok)
}
