package api

import (
	"context"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/auth"
	"github.com/protojour/authly/pkg/document"
	"github.com/protojour/authly/pkg/events"
	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/manager"
	"github.com/protojour/authly/pkg/mtls"
	"github.com/protojour/authly/pkg/security"
)

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
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

	broker := events.NewBroker()
	dispatcher := events.NewServiceEventDispatcher(context.Background())

	srv, err := NewServer(mgr, broker, dispatcher)
	require.NoError(t, err)
	return srv, mgr
}

func TestApplyDocumentThenTestPolicy(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	yaml := `
services:
  - label: webshop

entity-properties:
  - scope: webshop
    label: role
    attributes: [admin, customer]

personas:
  - label: alice
    username: alice
    password-hash: argon2id$fake

entity-attr-assignments:
  - entity: alice
    attributes: [webshop:role:admin]

policies:
  - label: admin-only
    allow: "Subject.webshop:role contains webshop:role:admin"

policy-bindings:
  - attributes: [webshop:role:admin]
    policies: [admin-only]
`
	applyResp, err := srv.ApplyDocument(ctx, &ApplyDocumentRequest{DirectoryLabel: "fleet", DocumentYAML: yaml})
	require.NoError(t, err)
	require.Empty(t, applyResp.Errors)
	assert.True(t, applyResp.Applied)

	dir, err := srv.directoryByLabel("fleet")
	require.NoError(t, err)
	namespaces, err := srv.manager.Store().ListNamespacesByDirectory(dir.Key)
	require.NoError(t, err)

	var aliceRef string
	for _, ns := range namespaces {
		if ns.Label == "alice" {
			aliceRef = ns.ID.String()
		}
	}
	require.NotEmpty(t, aliceRef, "compiled document must have created alice's entity namespace row")

	resp, err := srv.TestPolicy(ctx, &TestPolicyRequest{
		DirectoryLabel: "fleet",
		SubjectRef:     aliceRef,
		ResourceRef:    aliceRef,
	})
	require.NoError(t, err)
	assert.Equal(t, "allow", resp.Outcome)
}

func TestApplyDocumentRejectsDuplicateLabel(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.ApplyDocument(context.Background(), &ApplyDocumentRequest{
		DirectoryLabel: "fleet",
		DocumentYAML:   "services:\n  - label: dup\n  - label: dup\n",
	})
	require.NoError(t, err)
	assert.False(t, resp.Applied)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, string(document.ErrNameDefinedMultipleTimes), resp.Errors[0].Kind)
}

func TestAuthenticateAndRequestAccessToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	applyResp, err := srv.ApplyDocument(ctx, &ApplyDocumentRequest{
		DirectoryLabel: "fleet",
		DocumentYAML: `
personas:
  - label: alice
    username: alice
    password-hash: ` + hash + `
`,
	})
	require.NoError(t, err)
	require.Empty(t, applyResp.Errors)

	authResp, err := srv.Authenticate(ctx, &AuthenticateRequest{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.NotEmpty(t, authResp.SessionToken)

	_, err = srv.Authenticate(ctx, &AuthenticateRequest{Username: "alice", Password: "wrong"})
	assert.Error(t, err)

	tokResp, err := srv.RequestAccessToken(ctx, &RequestAccessTokenRequest{SessionToken: authResp.SessionToken})
	require.NoError(t, err)
	assert.NotEmpty(t, tokResp.AccessToken)
}

func TestRequestAccessTokenFallsBackToPeerIdentity(t *testing.T) {
	srv, _ := newTestServer(t)
	peerEid := id.Random[id.ServiceID]()
	ctx := mtls.ContextWithPeerServiceEntity(context.Background(), peerEid)

	resp, err := srv.RequestAccessToken(ctx, &RequestAccessTokenRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestMandateSubmissionRPCFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	issuerEid := id.Random[id.ServiceID]()
	ctx := mtls.ContextWithPeerServiceEntity(context.Background(), issuerEid)

	issueResp, err := srv.IssueMandateSubmissionCode(ctx, &IssueMandateSubmissionCodeRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, issueResp.Code)

	key, err := security.GenerateLocalCAKey()
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	mandateEid := id.Random[id.ServiceID]()
	submitResp, err := srv.SubmitMandate(context.Background(), &SubmitMandateRequest{
		Code:          issueResp.Code,
		MandateEntity: mandateEid.Upcast().String(),
		PublicKeyDER:  pubDER,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, submitResp.CertificateDER)

	// single-use
	_, err = srv.SubmitMandate(context.Background(), &SubmitMandateRequest{
		Code:          issueResp.Code,
		MandateEntity: mandateEid.Upcast().String(),
		PublicKeyDER:  pubDER,
	})
	assert.Error(t, err)

	fetchResp, err := srv.FetchMandate(context.Background(), &FetchMandateRequest{MandateEntity: mandateEid.Upcast().String()})
	require.NoError(t, err)
	assert.True(t, fetchResp.Granted)
	assert.Equal(t, issuerEid.Upcast().String(), fetchResp.GrantedByEntity)
}

func TestFetchMandateUngrantedIsNotAnError(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.FetchMandate(context.Background(), &FetchMandateRequest{MandateEntity: id.Random[id.ServiceID]().Upcast().String()})
	require.NoError(t, err)
	assert.False(t, resp.Granted)
}

func TestClusterStatusReportsLeader(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.ClusterStatus(context.Background(), &ClusterStatusRequest{})
	require.NoError(t, err)
	assert.True(t, resp.IsLeader)
}

func TestNewServerRejectsFollowerWithoutInstance(t *testing.T) {
	mgr, err := manager.NewManager(context.Background(), &manager.Config{
		EntityID: id.Random[id.ServiceID](),
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
		Backend:  security.NewDevBackend(),
		IsLeader: false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	// Never bootstrapped or joined: IsLeader must report false so write
	// RPCs are rejected rather than silently accepted locally.
	require.False(t, mgr.IsLeader())

	broker := events.NewBroker()
	dispatcher := events.NewServiceEventDispatcher(context.Background())
	_, err = NewServer(mgr, broker, dispatcher)
	assert.Error(t, err, "a follower with no loaded instance identity must fail NewServer, not silently serve")
}
