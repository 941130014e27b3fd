package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
)

// Dial opens a tunnel stream of the given security level over cc and
// drives the corresponding inner TLS handshake, returning the resulting
// *tls.Conn. The caller then uses it exactly like any other net.Conn —
// as the transport for an HTTP/2 client connection, for instance (the Go
// analogue of original_source/lib/authly-connect/src/client.rs's
// TunneledTlsStreamService, minus its tower-service plumbing: a plain
// net.Conn is all an hyper/http2 client needs on the Rust side too, once
// the handshake is done).
func Dial(ctx context.Context, cc *grpc.ClientConn, sec Security, tlsConfig *tls.Config) (*tls.Conn, error) {
	desc := &grpc.StreamDesc{StreamName: string(sec), ServerStreams: true, ClientStreams: true}
	method := "/" + serviceName + "/" + string(sec)

	stream, err := cc.NewStream(ctx, desc, method, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, fmt.Errorf("tunnel: opening %s stream: %w", sec, err)
	}

	raw := newConn(stream, tunnelAddr("tunnel-client"), tunnelAddr("tunnel-server"), stream.CloseSend)
	tlsConn := tls.Client(raw, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tunnel: inner TLS handshake: %w", err)
	}
	return tlsConn, nil
}
