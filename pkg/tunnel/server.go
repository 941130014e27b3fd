package tunnel

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/protojour/authly/pkg/log"
)

// Security selects which inner-TLS handshake a tunnel stream performs,
// the Go analogue of original_source's TunnelSecurity enum.
type Security string

const (
	// Secure is server-only inner TLS: the caller verifies the server's
	// certificate but presents none of its own.
	Secure Security = "Secure"
	// MutuallySecure additionally requires the caller to present a
	// client certificate the inner TLS config trusts.
	MutuallySecure Security = "MutuallySecure"
)

// Endpoint is what a tunneled security level serves once its inner TLS
// handshake completes: the TLS config that handshake runs under, and the
// plain HTTP handler fed every request that arrives over it.
type Endpoint struct {
	TLSConfig *tls.Config
	Handler   http.Handler
}

// Server answers Secure/MutuallySecure tunnel RPCs, running whatever
// Endpoint its caller registered for that security level. A directory
// with no registered Endpoint rejects streams at that level with
// NotFound, mirroring original_source's
// `self.services.get(&security).ok_or_else(Status::not_found)`.
//
// Unlike pkg/api's Server, the outer gRPC transport here carries no mTLS
// requirement: reaching this service at all requires no Authly identity,
// by design (see doc.go). Start runs it as a plain (or transport-TLS, at
// the caller's option) gRPC server.
type Server struct {
	endpoints map[Security]Endpoint
	grpc      *grpc.Server
}

// NewServer builds a tunnel server. endpoints maps each security level
// this instance answers to its inner-TLS config and handler; a security
// level with no entry is rejected at request time, not registration time
// (new levels can be wired in later without breaking existing clients).
// opts are passed straight to grpc.NewServer, letting the caller add
// transport credentials if the outer channel should itself run over TLS.
func NewServer(endpoints map[Security]Endpoint, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}, opts...)
	grpcServer := grpc.NewServer(opts...)
	s := &Server{endpoints: endpoints, grpc: grpcServer}
	RegisterAuthlyConnectServer(grpcServer, s)
	return s
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tunnel: listen: %w", err)
	}
	log.WithComponent("tunnel").Info().Str("addr", addr).Msg("Authly-Connect tunnel listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// Secure implements tunnelServer.
func (s *Server) Secure(stream grpc.ServerStream) error {
	return s.serve(Secure, stream)
}

// MutuallySecure implements tunnelServer.
func (s *Server) MutuallySecure(stream grpc.ServerStream) error {
	return s.serve(MutuallySecure, stream)
}

func (s *Server) serve(sec Security, stream grpc.ServerStream) error {
	ep, ok := s.endpoints[sec]
	if !ok {
		return status.Errorf(codes.NotFound, "tunnel: no endpoint registered for %s", sec)
	}

	ctx := stream.Context()
	remote := tunnelAddr("unknown")
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = tunnelAddr(p.Addr.String())
	}
	raw := newConn(stream, tunnelAddr("tunnel-server"), remote, nil)

	tlsConn := tls.Server(raw, ep.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		log.WithComponent("tunnel").Info().Err(err).Str("security", string(sec)).Msg("inner TLS handshake failed")
		return status.Errorf(codes.Aborted, "tunnel: inner TLS handshake: %v", err)
	}
	defer tlsConn.Close()

	lis := newSingleConnListener(tlsConn)
	httpSrv := &http.Server{
		Handler: ep.Handler,
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				_ = lis.Close()
			}
		},
	}
	if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, errSingleConnDone) {
		return fmt.Errorf("tunnel: serving tunneled connection: %w", err)
	}
	return nil
}

// singleConnListener hands out exactly one net.Conn then blocks Accept
// until Close, the same trick original_source's hyper connection builder
// achieves by driving a single already-accepted stream directly (Go's
// net/http.Server wants a net.Listener, so this is the idiomatic bridge).
type singleConnListener struct {
	conn   net.Conn
	taken  chan struct{}
	closed chan struct{}
}

var errSingleConnDone = errors.New("tunnel: single-connection listener exhausted")

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, taken: make(chan struct{}), closed: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	select {
	case <-l.taken:
		<-l.closed
		return nil, errSingleConnDone
	default:
		close(l.taken)
		return l.conn, nil
	}
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }
