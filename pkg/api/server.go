package api

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/protojour/authly/pkg/auth"
	"github.com/protojour/authly/pkg/document"
	"github.com/protojour/authly/pkg/events"
	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/log"
	"github.com/protojour/authly/pkg/manager"
	"github.com/protojour/authly/pkg/mtls"
	"github.com/protojour/authly/pkg/policy"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/types"
)

// Server implements the Authly gRPC service (spec §4.7/§9): document
// apply, policy testing, persona/service authentication, mandate exchange,
// and cluster membership.
type Server struct {
	manager    *manager.Manager
	broker     *events.Broker
	dispatcher *events.ServiceEventDispatcher
	grpc       *grpc.Server
}

// NewServer builds the gRPC server with mTLS credentials sourced from the
// manager's currently loaded AuthlyInstance, requesting (not requiring)
// client certificates at the handshake — individual RPCs decide for
// themselves whether mtls.PeerServiceEntity must be present (spec §6).
func NewServer(mgr *manager.Manager, broker *events.Broker, dispatcher *events.ServiceEventDispatcher) (*Server, error) {
	inst := mgr.Instance()
	if inst == nil {
		return nil, fmt.Errorf("api: manager has no loaded instance identity yet")
	}

	self := inst.SelfIdentity()
	if self == nil {
		return nil, fmt.Errorf("api: instance has no self-identity certificate")
	}
	cert := tls.Certificate{Certificate: [][]byte{self.DER}, PrivateKey: inst.PrivateKey}

	rootCAs := x509.NewCertPool()
	if root := inst.TrustRootCA(); root != nil {
		parsed, err := x509.ParseCertificate(root.DER)
		if err != nil {
			return nil, fmt.Errorf("api: parsing trust-root CA: %w", err)
		}
		rootCAs.AddCert(parsed)
	}

	tlsConfig := mtls.ServerTLSConfig(cert, rootCAs)
	creds := credentials.NewTLS(tlsConfig)

	// ReadOnlyInterceptor is not chained here: this mTLS server must
	// accept the write RPCs (ApplyDocument, SubmitMandate, JoinCluster,
	// ...) that are most of its purpose.
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(mtls.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(mtls.StreamServerInterceptor()),
	)

	s := &Server{manager: mgr, broker: broker, dispatcher: dispatcher, grpc: grpcServer}
	RegisterAuthlyServer(grpcServer, s)
	return s, nil
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *Server) ensureLeader() error {
	if !s.manager.IsLeader() {
		return status.Errorf(codes.FailedPrecondition, "not the leader, current leader is at %q", s.manager.LeaderAddr())
	}
	return nil
}

// directoryByLabel loads an existing document-kind directory by label, or
// creates one if this is the first document ever applied under it.
func (s *Server) directoryByLabel(label string) (*types.Directory, error) {
	dirs, err := s.manager.Store().ListDirectories()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if d.Kind == types.DirectoryKindDocument && d.Label == label {
			return d, nil
		}
	}
	dir := &types.Directory{ID: id.Random[id.DirectoryID](), Kind: types.DirectoryKindDocument, Label: label}
	if err := s.manager.Store().PutDirectory(dir); err != nil {
		return nil, err
	}
	return dir, nil
}

// ApplyDocument compiles req's YAML against its named directory and, on a
// clean compile, replicates the resulting snapshot through Raft (spec
// §4.4/§4.5's single-writer, leader-routed apply).
func (s *Server) ApplyDocument(ctx context.Context, req *ApplyDocumentRequest) (*ApplyDocumentResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	dir, err := s.directoryByLabel(req.DirectoryLabel)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolving directory: %v", err)
	}

	doc, err := document.ParseDocument([]byte(req.DocumentYAML))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "parsing document: %v", err)
	}

	snap, docErrs := document.Compile(doc, dir.Key, s.manager.Store(), s.manager.Deks())
	if len(docErrs) > 0 {
		msgs := make([]DocErrorMessage, len(docErrs))
		for i, e := range docErrs {
			msgs[i] = DocErrorMessage{Kind: string(e.Kind), Msg: e.Msg, Line: e.Span.Line, Column: e.Span.Column}
		}
		return &ApplyDocumentResponse{Applied: false, Errors: msgs}, nil
	}

	if err := s.manager.ApplyDirectorySnapshot(*snap); err != nil {
		return nil, status.Errorf(codes.Internal, "applying snapshot: %v", err)
	}
	s.broker.Publish(&events.Event{Type: events.EventDirectoryApplied, Message: dir.Label})
	s.dispatcher.BroadcastAll(events.ServiceMessage{Kind: events.ServiceMessagePolicyChanged})
	return &ApplyDocumentResponse{Applied: true}, nil
}

// TestPolicy evaluates the directory's currently persisted policy set for
// a subject/resource pair (spec §4.6).
func (s *Server) TestPolicy(ctx context.Context, req *TestPolicyRequest) (*TestPolicyResponse, error) {
	dir, err := s.directoryByLabel(req.DirectoryLabel)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolving directory: %v", err)
	}
	subject, err := id.ParseLiteral(req.SubjectRef)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "subject_ref: %v", err)
	}
	resource, err := id.ParseLiteral(req.ResourceRef)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "resource_ref: %v", err)
	}

	engine, err := document.LoadEngine(s.manager.Store(), dir.Key)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "loading policy engine: %v", err)
	}
	env, err := document.ResolveEnv(s.manager.Store(), id.BuiltinEntity.ToPropertyID(), subject, id.BuiltinEntity.ToPropertyID(), resource)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolving env: %v", err)
	}

	outcome, err := policy.Eval(engine, env)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "evaluating policy: %v", err)
	}
	if outcome == policy.Deny {
		s.broker.Publish(&events.Event{Type: events.EventPolicyDenied, Message: req.SubjectRef + " -> " + req.ResourceRef})
	}
	return &TestPolicyResponse{Outcome: outcome.String()}, nil
}

// Authenticate validates a persona's username/password and mints a
// bearer session (spec §3.2).
func (s *Server) Authenticate(ctx context.Context, req *AuthenticateRequest) (*AuthenticateResponse, error) {
	store := s.manager.Store()
	deks := s.manager.Deks()

	dek, ok := deks.Get(id.BuiltinUsername.ToPropertyID())
	if !ok {
		return nil, status.Error(codes.Internal, "no DEK for username property")
	}
	fp := security.Fingerprint(dek, []byte(req.Username))
	ident, err := store.GetObjIdentByFingerprint(id.BuiltinUsername.PropKey(), fp)
	if err != nil {
		s.broker.Publish(&events.Event{Type: events.EventPersonaLoginFailed, Message: req.Username})
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	hashIdent, err := store.GetObjIdent(ident.ObjID, id.BuiltinPasswordHash.PropKey())
	if err != nil {
		s.broker.Publish(&events.Event{Type: events.EventPersonaLoginFailed, Message: req.Username})
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	hashPlain, err := security.DecryptObjIdent(deks, id.BuiltinPasswordHash.ToPropertyID(), hashIdent.Nonce, hashIdent.Ciph)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "decrypting password hash: %v", err)
	}
	if err := auth.VerifyPassword(string(hashPlain), req.Password); err != nil {
		s.broker.Publish(&events.Event{Type: events.EventPersonaLoginFailed, Message: req.Username})
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	token, err := auth.IssueSession(store, ident.ObjID, auth.DefaultSessionTTL)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "issuing session: %v", err)
	}
	s.broker.Publish(&events.Event{Type: events.EventPersonaAuthenticated, Message: req.Username})
	return &AuthenticateResponse{SessionToken: token, ExpiresAt: time.Now().Add(auth.DefaultSessionTTL)}, nil
}

// RequestAccessToken exchanges a bearer session, or an mTLS-identified
// calling service's own identity absent one, for a signed access token.
func (s *Server) RequestAccessToken(ctx context.Context, req *RequestAccessTokenRequest) (*RequestAccessTokenResponse, error) {
	inst := s.manager.Instance()
	if inst == nil {
		return nil, status.Error(codes.Unavailable, "instance identity not yet bootstrapped")
	}

	var subject id.Any
	if req.SessionToken != "" {
		eid, err := auth.ValidateSession(s.manager.Store(), req.SessionToken)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		subject = eid
	} else {
		peer, ok := mtls.PeerServiceEntity(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "no session token and no mTLS client certificate")
		}
		subject = peer.Upcast()
	}

	ttl := auth.DefaultAccessTokenTTL
	token, err := auth.IssueAccessToken(inst, subject, req.Roles, ttl)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "issuing access token: %v", err)
	}
	return &RequestAccessTokenResponse{AccessToken: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// IssueMandateSubmissionCode mints a single-use code for a downstream
// mandate instance, attributed to the calling peer's mTLS identity.
func (s *Server) IssueMandateSubmissionCode(ctx context.Context, req *IssueMandateSubmissionCodeRequest) (*IssueMandateSubmissionCodeResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	peer, ok := mtls.PeerServiceEntity(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "mandate submission codes require an mTLS client certificate")
	}
	code, err := manager.IssueSubmissionCode(s.manager.Store(), s.manager.Deks(), peer.Upcast())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "issuing submission code: %v", err)
	}
	return &IssueMandateSubmissionCodeResponse{Code: code, ExpiresAt: time.Now().Add(manager.SubmissionCodeTTL)}, nil
}

// SubmitMandate consumes a submission code and signs the presenting
// instance's public key under the local CA.
func (s *Server) SubmitMandate(ctx context.Context, req *SubmitMandateRequest) (*SubmitMandateResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	inst := s.manager.Instance()
	if inst == nil {
		return nil, status.Error(codes.Unavailable, "instance identity not yet bootstrapped")
	}
	mandateAny, err := id.ParseLiteral(req.MandateEntity)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "mandate_entity: %v", err)
	}
	mandateEid, err := id.DowncastService(mandateAny)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "mandate_entity: %v", err)
	}
	pubKey, err := x509.ParsePKIXPublicKey(req.PublicKeyDER)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "public_key_der: %v", err)
	}
	ecdsaPub, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "public_key_der must encode an EC public key")
	}

	der, err := manager.SubmitMandate(s.manager.Store(), s.manager.Deks(), inst, req.Code, mandateEid, ecdsaPub)
	if err != nil {
		return nil, status.Error(codes.PermissionDenied, err.Error())
	}
	s.broker.Publish(&events.Event{Type: events.EventMandateGranted, Message: req.MandateEntity})
	return &SubmitMandateResponse{CertificateDER: der}, nil
}

// FetchMandate polls for a mandate grant previously recorded by
// SubmitMandate.
func (s *Server) FetchMandate(ctx context.Context, req *FetchMandateRequest) (*FetchMandateResponse, error) {
	mandateAny, err := id.ParseLiteral(req.MandateEntity)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "mandate_entity: %v", err)
	}
	mandateEid, err := id.DowncastService(mandateAny)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "mandate_entity: %v", err)
	}
	m, err := manager.FetchMandate(s.manager.Store(), mandateEid)
	if err != nil {
		return &FetchMandateResponse{Granted: false}, nil
	}
	return &FetchMandateResponse{
		Granted:            true,
		GrantedByEntity:    m.GrantedByEid.Upcast().String(),
		PublicKeyDER:       m.PublicKey,
		LastConnectionTime: m.LastConnectionTime,
	}, nil
}

// GenerateJoinToken mints a cluster-join token; leader-only.
func (s *Server) GenerateJoinToken(ctx context.Context, req *GenerateJoinTokenRequest) (*GenerateJoinTokenResponse, error) {
	jt, err := s.manager.GenerateJoinToken(req.Role)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &GenerateJoinTokenResponse{Token: jt.Token, ExpiresAt: jt.ExpiresAt}, nil
}

// JoinCluster validates a join token out-of-band-issued to a new node and
// adds it as a Raft voter.
func (s *Server) JoinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if _, err := s.manager.ValidateJoinToken(req.Token); err != nil {
		return nil, status.Error(codes.PermissionDenied, err.Error())
	}
	if err := s.manager.AddVoter(req.NodeID, req.RaftAddr); err != nil {
		return nil, status.Errorf(codes.Internal, "adding voter: %v", err)
	}
	return &JoinClusterResponse{Accepted: true}, nil
}

// ClusterStatus reports this node's view of Raft membership.
func (s *Server) ClusterStatus(ctx context.Context, req *ClusterStatusRequest) (*ClusterStatusResponse, error) {
	stats := s.manager.GetRaftStats()
	resp := &ClusterStatusResponse{IsLeader: s.manager.IsLeader(), LeaderAddr: s.manager.LeaderAddr()}
	if stats != nil {
		if peers, ok := stats["peers"].(uint64); ok {
			resp.Peers = peers
		}
		if li, ok := stats["last_log_index"].(uint64); ok {
			resp.LastIndex = li
		}
		if ai, ok := stats["applied_index"].(uint64); ok {
			resp.Applied = ai
		}
	}
	return resp, nil
}

// Messages streams events.ServiceMessages to a connected peer for the
// life of the gRPC stream. The stream's own context cancellation is how
// the dispatcher learns the connection is gone (see pkg/events.doc.go).
func (s *Server) Messages(req *MessagesRequest, stream grpc.ServerStream) error {
	peerEid, ok := mtls.PeerServiceEntity(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "Messages requires an mTLS client certificate")
	}

	addr := "unknown"
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	conn := events.NewServiceConnection(stream.Context(), addr)
	s.dispatcher.Subscribe(peerEid, conn)

	for msg := range conn.Messages() {
		if err := stream.SendMsg(&MessageEnvelope{Kind: string(msg.Kind)}); err != nil {
			return err
		}
	}
	return nil
}
