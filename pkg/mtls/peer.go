// Package mtls extracts the Authly entity ID carried in a gRPC peer's
// client certificate (spec §4.3/§6: "OID 2.5.4.45") and attaches it to the
// request context as a PeerServiceEntity capability.
package mtls

import (
	"context"
	"crypto/tls"
	"crypto/x509"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
)

type peerEntityKey struct{}

// PeerServiceEntity returns the ServiceId extracted from the calling
// peer's client certificate, and ok=false if the connection carried no
// client certificate or none with the Authly entity-ID DN attribute —
// absence is not an error at this layer (spec §6): "a client without the
// custom attribute causes absence, not error".
func PeerServiceEntity(ctx context.Context) (id.ServiceID, bool) {
	v, ok := ctx.Value(peerEntityKey{}).(id.ServiceID)
	return v, ok
}

// withPeerServiceEntity stashes eid in ctx for PeerServiceEntity to later
// retrieve.
func withPeerServiceEntity(ctx context.Context, eid id.ServiceID) context.Context {
	return context.WithValue(ctx, peerEntityKey{}, eid)
}

// ContextWithPeerServiceEntity attaches eid to ctx as if it had been
// extracted from a verified client certificate. Exported for packages that
// need to exercise PeerServiceEntity-gated RPCs without a live TLS
// handshake (pkg/api's tests).
func ContextWithPeerServiceEntity(ctx context.Context, eid id.ServiceID) context.Context {
	return withPeerServiceEntity(ctx, eid)
}

// UnaryServerInterceptor inspects the TLS connection state of every unary
// RPC and, when the peer presented a verified client certificate carrying
// the Authly entity-ID attribute, attaches it to the handler's context.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(extractPeerEntity(ctx), req)
	}
}

// StreamServerInterceptor is the streaming-RPC analogue of
// UnaryServerInterceptor (spec §4.7's Messages() stream, SignCertificate,
// and every other gRPC method run the same peer-extraction pass).
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		wrapped := &wrappedStream{ServerStream: ss, ctx: extractPeerEntity(ss.Context())}
		return handler(srv, wrapped)
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func extractPeerEntity(ctx context.Context) context.Context {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ctx
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
		return ctx
	}
	cert := tlsInfo.State.PeerCertificates[0]
	any, ok := security.EntityIDFromCert(cert)
	if !ok {
		return ctx
	}
	eid, err := id.DowncastService(any)
	if err != nil {
		return ctx
	}
	return withPeerServiceEntity(ctx, eid)
}

// ServerTLSConfig builds the mTLS listener configuration for the main
// gRPC server (spec §6: "Main server (mTLS-required, scheme HTTPS)").
// Client certificates are requested but not required at the handshake —
// absence is only checked per-RPC by whichever handler needs
// PeerServiceEntity, mirroring the teacher's "request but don't require"
// comment on its own TLS listener.
func ServerTLSConfig(cert tls.Certificate, rootCAs *x509.CertPool) *tls.Config {
	return &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    rootCAs,
		MinVersion:   tls.VersionTLS13,
	}
}
