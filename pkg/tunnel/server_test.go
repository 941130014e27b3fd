package tunnel

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
)

// innerTLSMaterial builds a local CA plus one leaf server certificate and
// one leaf client certificate, all signed by that CA, reusing
// pkg/security exactly the way a real Authly instance would — the inner
// TLS this package tunnels is ordinary Authly certificate material.
type innerTLSMaterial struct {
	caPool     *x509.CertPool
	serverCert tls.Certificate
	clientCert tls.Certificate
}

func newInnerTLSMaterial(t *testing.T) innerTLSMaterial {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	deks, err := security.LoadDecryptedDeks(context.Background(), store, security.NewDevBackend(), "tunnel-test", true)
	require.NoError(t, err)

	eid := id.Random[id.ServiceID]()
	inst, err := security.BootstrapInstance(store, deks, eid, true)
	require.NoError(t, err)

	caCert := inst.LocalCA()
	require.NotNil(t, caCert)
	caParsed, err := x509.ParseCertificate(caCert.DER)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(caParsed)

	serverKey, err := security.GenerateLocalCAKey()
	require.NoError(t, err)
	serverDER, err := inst.SignWithLocalCA(security.CsrParams{
		Certifies: id.Random[id.ServiceID]().Upcast(), Validity: time.Hour, DNSNames: []string{"authly-tunnel.test"},
	}, &serverKey.PublicKey)
	require.NoError(t, err)

	clientKey, err := security.GenerateLocalCAKey()
	require.NoError(t, err)
	clientDER, err := inst.SignWithLocalCA(security.CsrParams{
		Certifies: id.Random[id.ServiceID]().Upcast(), Validity: time.Hour,
	}, &clientKey.PublicKey)
	require.NoError(t, err)

	return innerTLSMaterial{
		caPool:     pool,
		serverCert: tls.Certificate{Certificate: [][]byte{serverDER, caCert.DER}, PrivateKey: serverKey},
		clientCert: tls.Certificate{Certificate: [][]byte{clientDER, caCert.DER}, PrivateKey: clientKey},
	}
}

func newBufconnDial(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	RegisterAuthlyConnectServer(grpcServer, srv)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	cc, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "hello %s", r.URL.Path)
	})
}

func TestSecureTunnelServesPlainClient(t *testing.T) {
	mat := newInnerTLSMaterial(t)
	srv := NewServer(map[Security]Endpoint{
		Secure: {
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{mat.serverCert}},
			Handler:   echoHandler(),
		},
	})
	cc := newBufconnDial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, cc, Secure, &tls.Config{RootCAs: mat.caPool, ServerName: "authly-tunnel.test"})
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprint(conn, "GET /world HTTP/1.1\r\nHost: 127.0.0.1\r\nConnection: close\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello /world", string(body))
}

func TestMutuallySecureTunnelRejectsMissingClientCert(t *testing.T) {
	mat := newInnerTLSMaterial(t)
	srv := NewServer(map[Security]Endpoint{
		MutuallySecure: {
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{mat.serverCert},
				ClientAuth:   tls.RequireAndVerifyClientCert,
				ClientCAs:    mat.caPool,
			},
			Handler: echoHandler(),
		},
	})
	cc := newBufconnDial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No client certificate presented: the inner handshake must fail.
	_, err := Dial(ctx, cc, MutuallySecure, &tls.Config{RootCAs: mat.caPool, ServerName: "authly-tunnel.test"})
	assert.Error(t, err)
}

func TestMutuallySecureTunnelAcceptsValidClientCert(t *testing.T) {
	mat := newInnerTLSMaterial(t)
	srv := NewServer(map[Security]Endpoint{
		MutuallySecure: {
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{mat.serverCert},
				ClientAuth:   tls.RequireAndVerifyClientCert,
				ClientCAs:    mat.caPool,
			},
			Handler: echoHandler(),
		},
	})
	cc := newBufconnDial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, cc, MutuallySecure, &tls.Config{
		RootCAs:      mat.caPool,
		ServerName:   "authly-tunnel.test",
		Certificates: []tls.Certificate{mat.clientCert},
	})
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprint(conn, "GET /mtls HTTP/1.1\r\nHost: 127.0.0.1\r\nConnection: close\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello /mtls", string(body))
}

func TestSecureTunnelRejectsUnregisteredSecurityLevel(t *testing.T) {
	srv := NewServer(map[Security]Endpoint{})
	cc := newBufconnDial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, cc, Secure, &tls.Config{InsecureSkipVerify: true})
	assert.Error(t, err)
}
