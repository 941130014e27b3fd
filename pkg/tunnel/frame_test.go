package tunnel

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeStream is a bidiStream backed by two in-process channels, letting
// frame_test exercise conn's Read/Write framing without a real gRPC
// transport underneath.
type pipeStream struct {
	out chan []byte
	in  chan []byte
}

func newPipePair() (*pipeStream, *pipeStream) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &pipeStream{out: ab, in: ba}, &pipeStream{out: ba, in: ab}
}

func (p *pipeStream) SendMsg(m any) error {
	f := m.(*Frame)
	p.out <- append([]byte(nil), f.Data...)
	return nil
}

func (p *pipeStream) RecvMsg(m any) error {
	data, ok := <-p.in
	if !ok {
		return io.EOF
	}
	f := m.(*Frame)
	f.Data = data
	return nil
}

func TestConnReadWriteRoundTrip(t *testing.T) {
	a, b := newPipePair()
	ca := newConn(a, tunnelAddr("a"), tunnelAddr("b"), nil)
	cb := newConn(b, tunnelAddr("b"), tunnelAddr("a"), nil)

	n, err := ca.Write([]byte("hello tunnel"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	buf := make([]byte, 64)
	n, err = cb.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello tunnel", string(buf[:n]))
}

func TestConnReadAssemblesAcrossMultipleFrames(t *testing.T) {
	a, b := newPipePair()
	ca := newConn(a, tunnelAddr("a"), tunnelAddr("b"), nil)
	cb := newConn(b, tunnelAddr("b"), tunnelAddr("a"), nil)

	_, err := ca.Write([]byte("first "))
	require.NoError(t, err)
	_, err = ca.Write([]byte("second"))
	require.NoError(t, err)

	var got bytes.Buffer
	buf := make([]byte, 4)
	for got.Len() < len("first second") {
		n, err := cb.Read(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.Equal(t, "first second", got.String())
}

func TestConnReadReturnsEOFOnClosedChannel(t *testing.T) {
	a, b := newPipePair()
	cb := newConn(b, tunnelAddr("b"), tunnelAddr("a"), nil)
	close(a.out)

	_, err := cb.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnCloseRejectsFurtherIO(t *testing.T) {
	a, b := newPipePair()
	_ = b
	ca := newConn(a, tunnelAddr("a"), tunnelAddr("b"), nil)

	require.NoError(t, ca.Close())
	_, err := ca.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
