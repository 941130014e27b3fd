package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/protojour/authly/pkg/api"
)

// jsonContentSubtype matches pkg/api/codec.go's jsonCodecName; importing
// pkg/api runs that package's init(), which registers the "json"
// encoding.Codec globally, so every call made through Client negotiates
// the same wire format the server was started with.
const jsonContentSubtype = "json"

// Client wraps an mTLS gRPC connection to an Authly server, dispatching
// onto the same hand-written RPCs pkg/api/service.go registers.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials addr with mTLS, loading cert.pem/key.pem/ca.pem from
// certDir (the teacher's ~/.warren/cli/ layout, renamed to Authly's own
// certificate files).
func NewClient(addr, certDir string) (*Client, error) {
	tlsConfig, err := loadClientTLSConfig(certDir)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewBootstrapClient dials addr with no client certificate, trusting only
// the CA read from caPath. The server requests but does not require a
// client certificate at the TLS handshake (pkg/api.NewServer), so this is
// enough to reach SubmitMandate/FetchMandate, the RPCs a brand-new
// instance calls before it holds an Authly identity of its own.
// IssueMandateSubmissionCode rejects a caller without a client certificate.
func NewBootstrapClient(addr, caPath string) (*Client, error) {
	pool, err := loadTrustRoot(caPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfigFromPool(pool, nil))))
	if err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func loadClientTLSConfig(certDir string) (*tls.Config, error) {
	certPath := filepath.Join(certDir, "cert.pem")
	keyPath := filepath.Join(certDir, "key.pem")
	caPath := filepath.Join(certDir, "ca.pem")

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate from %s: %w (has this identity been issued yet? see authlyctl mandate submit)", certDir, err)
	}

	pool, err := loadTrustRoot(caPath)
	if err != nil {
		return nil, err
	}

	return tlsConfigFromPool(pool, &cert), nil
}

func loadTrustRoot(caPath string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate from %s: %w", caPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	return pool, nil
}

// tlsConfigFromPool builds the chain-only TLS config shared by NewClient
// and NewBootstrapClient. Authly peers are authenticated by entity ID (the
// custom DN attribute pkg/security.EntityIDFromCert reads), not by
// hostname — server certificates carry no DNS/IP SANs at all (see
// pkg/security/instance.go's CsrParams). Go's default VerifyHostname check
// would therefore reject every connection regardless of ServerName, so
// verification here is chain-only: trust root plus expiry/usage, same
// trust model the server side applies to client certificates via
// mtls.UnaryServerInterceptor. cert is nil for the certificate-less
// bootstrap dial used by the mandate-submission flow.
func tlsConfigFromPool(pool *x509.CertPool, cert *tls.Certificate) *tls.Config {
	cfg := &tls.Config{
		RootCAs:               pool,
		MinVersion:            tls.VersionTLS13,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyChainOnly(pool),
	}
	if cert != nil {
		cfg.Certificates = []tls.Certificate{*cert}
	}
	return cfg
}

func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("client: server presented no certificate")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("client: parsing server certificate: %w", err)
		}
		intermediates := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			if cert, err := x509.ParseCertificate(raw); err == nil {
				intermediates.AddCert(cert)
			}
		}
		_, err = leaf.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		if err != nil {
			return fmt.Errorf("client: verifying server certificate chain: %w", err)
		}
		return nil
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	fullMethod := "/authly.Authly/" + method
	return c.conn.Invoke(ctx, fullMethod, req, resp, grpc.CallContentSubtype(jsonContentSubtype))
}

// ApplyDocument compiles and applies a YAML document against a named
// directory (spec §4.5).
func (c *Client) ApplyDocument(ctx context.Context, directoryLabel, documentYAML string) (*api.ApplyDocumentResponse, error) {
	resp := new(api.ApplyDocumentResponse)
	err := c.invoke(ctx, "ApplyDocument", &api.ApplyDocumentRequest{
		DirectoryLabel: directoryLabel,
		DocumentYAML:   documentYAML,
	}, resp)
	return resp, err
}

// TestPolicy asks whether subjectRef would be allowed against resourceRef
// under directoryLabel's currently applied policy set (spec §4.6).
func (c *Client) TestPolicy(ctx context.Context, directoryLabel, subjectRef, resourceRef string) (*api.TestPolicyResponse, error) {
	resp := new(api.TestPolicyResponse)
	err := c.invoke(ctx, "TestPolicy", &api.TestPolicyRequest{
		DirectoryLabel: directoryLabel,
		SubjectRef:     subjectRef,
		ResourceRef:    resourceRef,
	}, resp)
	return resp, err
}

// Authenticate performs a persona password login (spec §3.2/§4.7).
func (c *Client) Authenticate(ctx context.Context, username, password string) (*api.AuthenticateResponse, error) {
	resp := new(api.AuthenticateResponse)
	err := c.invoke(ctx, "Authenticate", &api.AuthenticateRequest{
		Username: username,
		Password: password,
	}, resp)
	return resp, err
}

// RequestAccessToken exchanges a session token (or, if empty, the
// connection's own mTLS identity) for a short-lived access token.
func (c *Client) RequestAccessToken(ctx context.Context, sessionToken string, roles []string) (*api.RequestAccessTokenResponse, error) {
	resp := new(api.RequestAccessTokenResponse)
	err := c.invoke(ctx, "RequestAccessToken", &api.RequestAccessTokenRequest{
		SessionToken: sessionToken,
		Roles:        roles,
	}, resp)
	return resp, err
}

// IssueMandateSubmissionCode mints a single-use code an authority can
// hand to a downstream mandate instance out of band (SPEC_FULL.md §13
// item 1).
func (c *Client) IssueMandateSubmissionCode(ctx context.Context) (*api.IssueMandateSubmissionCodeResponse, error) {
	resp := new(api.IssueMandateSubmissionCodeResponse)
	err := c.invoke(ctx, "IssueMandateSubmissionCode", &api.IssueMandateSubmissionCodeRequest{}, resp)
	return resp, err
}

// SubmitMandate presents a submission code plus a locally generated
// public key, requesting the authority sign it as this mandate's identity
// certificate.
func (c *Client) SubmitMandate(ctx context.Context, code, mandateEntity string, publicKeyDER []byte) (*api.SubmitMandateResponse, error) {
	resp := new(api.SubmitMandateResponse)
	err := c.invoke(ctx, "SubmitMandate", &api.SubmitMandateRequest{
		Code:          code,
		MandateEntity: mandateEntity,
		PublicKeyDER:  publicKeyDER,
	}, resp)
	return resp, err
}

// FetchMandate polls for a mandate grant recorded by an authority's
// SubmitMandate call.
func (c *Client) FetchMandate(ctx context.Context, mandateEntity string) (*api.FetchMandateResponse, error) {
	resp := new(api.FetchMandateResponse)
	err := c.invoke(ctx, "FetchMandate", &api.FetchMandateRequest{
		MandateEntity: mandateEntity,
	}, resp)
	return resp, err
}

// GenerateJoinToken mints a cluster-join token; leader-only.
func (c *Client) GenerateJoinToken(ctx context.Context, role string) (*api.GenerateJoinTokenResponse, error) {
	resp := new(api.GenerateJoinTokenResponse)
	err := c.invoke(ctx, "GenerateJoinToken", &api.GenerateJoinTokenRequest{Role: role}, resp)
	return resp, err
}

// JoinCluster presents a join token to the leader, requesting nodeID be
// added as a Raft voter reachable at raftAddr.
func (c *Client) JoinCluster(ctx context.Context, token, nodeID, raftAddr string) (*api.JoinClusterResponse, error) {
	resp := new(api.JoinClusterResponse)
	err := c.invoke(ctx, "JoinCluster", &api.JoinClusterRequest{
		Token:    token,
		NodeID:   nodeID,
		RaftAddr: raftAddr,
	}, resp)
	return resp, err
}

// ClusterStatus reports the connected node's view of Raft state.
func (c *Client) ClusterStatus(ctx context.Context) (*api.ClusterStatusResponse, error) {
	resp := new(api.ClusterStatusResponse)
	err := c.invoke(ctx, "ClusterStatus", &api.ClusterStatusRequest{}, resp)
	return resp, err
}
