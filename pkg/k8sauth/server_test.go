package k8sauth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/document"
	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/manager"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/types"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	mgr, err := manager.NewManager(context.Background(), &manager.Config{
		EntityID: id.Random[id.ServiceID](),
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
		Backend:  security.NewDevBackend(),
		IsLeader: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })
	require.NoError(t, mgr.Bootstrap())
	require.Eventually(t, mgr.IsLeader, 5*time.Second, 10*time.Millisecond)
	return mgr
}

// bindK8sServiceAccount applies a document binding a service entity to
// k8sAccount and returns that service's resolved id.ServiceID.
func bindK8sServiceAccount(t *testing.T, mgr *manager.Manager, k8sAccount string) id.ServiceID {
	t.Helper()
	doc, err := document.ParseDocument([]byte(`
services:
  - label: webshop
    k8s-service-account: "` + k8sAccount + `"
`))
	require.NoError(t, err)

	dir := &types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: "fleet"}
	require.NoError(t, mgr.Store().PutDirectory(dir))

	snap, docErrs := document.Compile(doc, dir.Key, mgr.Store(), mgr.Deks())
	require.Empty(t, docErrs)
	require.NoError(t, mgr.ApplyDirectorySnapshot(*snap))

	svcs, err := mgr.Store().ListServicesByDirectory(dir.Key)
	require.NoError(t, err)
	require.Len(t, svcs, 1)
	return svcs[0].Eid
}

func TestAuthenticateHandlerIssuesCertificate(t *testing.T) {
	mgr := newTestManager(t)
	svcEid := bindK8sServiceAccount(t, mgr, "prod/webshop")

	rsaKey, jwks := generateTestJWKS(t, "key-1")
	verifier, err := NewJWTVerifier(jwks, "https://cluster.example")
	require.NoError(t, err)

	srv, err := NewServer(mgr, verifier)
	require.NoError(t, err)

	token := signTestToken(t, rsaKey, "key-1", "https://cluster.example", ServiceAccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"https://cluster.example"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		KubernetesIO: KubernetesIOClaims{
			Namespace:      "prod",
			ServiceAccount: K8sServiceAccountRef{Name: "webshop"},
		},
	})

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&clientKey.PublicKey)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v0/authenticate", bytes.NewReader(pubDER))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	srv.authenticateHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cert, err := x509.ParseCertificate(rec.Body.Bytes())
	require.NoError(t, err)
	certifies, ok := security.EntityIDFromCert(cert)
	require.True(t, ok)
	assert.Equal(t, svcEid.Upcast().String(), certifies.String())
}

func TestAuthenticateHandlerRejectsUnboundServiceAccount(t *testing.T) {
	mgr := newTestManager(t)
	bindK8sServiceAccount(t, mgr, "prod/webshop")

	rsaKey, jwks := generateTestJWKS(t, "key-1")
	verifier, err := NewJWTVerifier(jwks, "https://cluster.example")
	require.NoError(t, err)

	srv, err := NewServer(mgr, verifier)
	require.NoError(t, err)

	token := signTestToken(t, rsaKey, "key-1", "https://cluster.example", ServiceAccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"https://cluster.example"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		KubernetesIO: KubernetesIOClaims{
			Namespace:      "prod",
			ServiceAccount: K8sServiceAccountRef{Name: "someone-else"},
		},
	})

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&clientKey.PublicKey)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v0/authenticate", bytes.NewReader(pubDER))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	srv.authenticateHandler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticateHandlerRejectsMissingBearer(t *testing.T) {
	mgr := newTestManager(t)
	_, jwks := generateTestJWKS(t, "key-1")
	verifier, err := NewJWTVerifier(jwks, "https://cluster.example")
	require.NoError(t, err)

	srv, err := NewServer(mgr, verifier)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v0/authenticate", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	srv.authenticateHandler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewServerRejectsManagerWithoutInstance(t *testing.T) {
	mgr, err := manager.NewManager(context.Background(), &manager.Config{
		EntityID: id.Random[id.ServiceID](),
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
		Backend:  security.NewDevBackend(),
		IsLeader: false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	_, jwks := generateTestJWKS(t, "key-1")
	verifier, err := NewJWTVerifier(jwks, "https://cluster.example")
	require.NoError(t, err)

	_, err = NewServer(mgr, verifier)
	assert.Error(t, err)
}
