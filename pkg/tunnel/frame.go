package tunnel

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"google.golang.org/grpc/encoding"
)

// Frame is the tunnel's only wire message: one chunk of the inner TLS
// byte stream, carried in either direction over the outer gRPC stream.
type Frame struct {
	Data []byte `json:"data"`
}

// codecName is the grpc.Codec name/content-subtype this package forces
// on its own gRPC server and client streams, mirroring pkg/api/codec.go's
// jsonCodec without importing that package (see doc.go).
const codecName = "tunnel-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// bidiStream is the common surface grpc.ServerStream and grpc.ClientStream
// both satisfy, the only thing conn needs from either.
type bidiStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// ErrClosed is returned by Read/Write after Close.
var ErrClosed = errors.New("tunnel: connection closed")

// conn adapts a gRPC bidi stream of Frames into a net.Conn, so an
// ordinary crypto/tls.Client or crypto/tls.Server can run its handshake
// and record layer directly on top of it.
type conn struct {
	stream     bidiStream
	closeSend  func() error // nil on the server side; stream.CloseSend on the client side
	localAddr  net.Addr
	remoteAddr net.Addr

	readBuf bytes.Buffer
	closed  chan struct{}
}

func newConn(stream bidiStream, local, remote net.Addr, closeSend func() error) *conn {
	return &conn{
		stream:     stream,
		closeSend:  closeSend,
		localAddr:  local,
		remoteAddr: remote,
		closed:     make(chan struct{}),
	}
}

func (c *conn) Read(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	default:
	}
	for c.readBuf.Len() == 0 {
		var f Frame
		if err := c.stream.RecvMsg(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, err
		}
		c.readBuf.Write(f.Data)
	}
	return c.readBuf.Read(p)
}

func (c *conn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	default:
	}
	if len(p) == 0 {
		return 0, nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	if err := c.stream.SendMsg(&Frame{Data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close signals CloseSend (client side only; a server-side handler closes
// its stream by returning). Further Read/Write calls fail with ErrClosed.
func (c *conn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	if c.closeSend != nil {
		return c.closeSend()
	}
	return nil
}

func (c *conn) LocalAddr() net.Addr  { return c.localAddr }
func (c *conn) RemoteAddr() net.Addr { return c.remoteAddr }

// Deadlines are not supported: a gRPC stream's lifetime is governed by
// its context, not per-call I/O deadlines. These are no-ops so callers
// written against plain net.Conn (like crypto/tls) still compile and run.
func (c *conn) SetDeadline(t time.Time) error      { return nil }
func (c *conn) SetReadDeadline(t time.Time) error  { return nil }
func (c *conn) SetWriteDeadline(t time.Time) error { return nil }

// tunnelAddr is a placeholder net.Addr for ends of the tunnel that have
// no real transport address of their own (the inner connection's address
// is meaningless; what matters is the outer gRPC peer, reported
// separately where available).
type tunnelAddr string

func (a tunnelAddr) Network() string { return "authly-tunnel" }
func (a tunnelAddr) String() string  { return string(a) }
