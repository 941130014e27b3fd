package k8sauth

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/log"
	"github.com/protojour/authly/pkg/manager"
	"github.com/protojour/authly/pkg/security"
)

// CertValidityPeriod is how long a certificate signed by this server is
// valid for (original_source: CERT_VALIDITY_PERIOD, 365 days).
const CertValidityPeriod = 365 * 24 * time.Hour

// Server answers Kubernetes service-account token exchanges over plain
// server-authenticated TLS (no client cert required at the handshake —
// the bearer token inside the request is the credential being checked).
type Server struct {
	manager  *manager.Manager
	verifier *JWTVerifier
	httpSrv  *http.Server
}

// NewServer builds a k8sauth server. verifier must already hold the
// cluster's fetched JWKS (see FetchJWKS/NewJWTVerifier) — refreshing it
// periodically, if desired, is the caller's responsibility.
func NewServer(mgr *manager.Manager, verifier *JWTVerifier) (*Server, error) {
	inst := mgr.Instance()
	if inst == nil {
		return nil, fmt.Errorf("k8sauth: manager has no loaded instance identity yet")
	}
	s := &Server{manager: mgr, verifier: verifier}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/authenticate", s.authenticateHandler)
	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start listens on addr with a server-only TLS config built from the
// instance's current self-identity certificate.
func (s *Server) Start(addr string) error {
	inst := s.manager.Instance()
	self := inst.SelfIdentity()
	if self == nil {
		return fmt.Errorf("k8sauth: instance has no self-identity certificate")
	}
	cert := tls.Certificate{Certificate: [][]byte{self.DER}, PrivateKey: inst.PrivateKey}
	s.httpSrv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h2", "http/1.1"},
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("k8sauth: listen: %w", err)
	}
	log.WithComponent("k8sauth").Info().Str("addr", addr).Msg("k8s auth server listening")
	return s.httpSrv.ServeTLS(lis, "", "")
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	_ = s.httpSrv.Close()
}

// authenticateHandler is the Go analogue of
// original_source/src/k8s/k8s_auth_server.rs's v0_authenticate_handler:
// verify the bearer SA token, resolve its bound Service entity, sign the
// request body's public key under the local CA.
func (s *Server) authenticateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := log.WithComponent("k8sauth")

	token, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		logger.Info().Err(err).Msg("k8s token not verified")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	dek, ok := s.manager.Deks().Get(id.BuiltinK8sServiceAccount.ToPropertyID())
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	fp := security.Fingerprint(dek, []byte(claims.Identity()))
	ident, err := s.manager.Store().GetObjIdentByFingerprint(id.BuiltinK8sServiceAccount.PropKey(), fp)
	if err != nil {
		logger.Info().Str("identity", claims.Identity()).Msg("k8s service account not known by authly")
		http.Error(w, "kubernetes service account not known by authly", http.StatusForbidden)
		return
	}
	eid, err := id.DowncastService(ident.ObjID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	pub, err := x509.ParsePKIXPublicKey(body)
	if err != nil {
		http.Error(w, "invalid public key", http.StatusUnprocessableEntity)
		return
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		http.Error(w, "invalid public key", http.StatusUnprocessableEntity)
		return
	}

	der, err := s.manager.Instance().SignWithLocalCA(security.CsrParams{
		Certifies: eid.Upcast(),
		Validity:  CertValidityPeriod,
	}, ecdsaPub)
	if err != nil {
		logger.Error().Err(err).Msg("signing k8s client certificate")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.Info().Str("eid", eid.String()).Msg("k8s service account authenticated")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(der)
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}
