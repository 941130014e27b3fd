/*
Package tunnel implements the Authly-Connect tunnel (SPEC_FULL.md §13
item 5, grounded on original_source/lib/authly-connect/src/{client,server}.rs
and src/proto/connect_server.rs): a gRPC bidi-streaming RPC whose messages
carry raw bytes of an independent, inner TLS connection.

The outer gRPC channel this service runs on needs no client certificate —
that is the point of the tunnel: a caller with no Authly identity yet
(a fresh node joining the cluster, a browser talking to a web UI) can
still reach it. Once a stream is open, the inner TLS handshake decides
what comes next:

  - Secure: server-only inner TLS. The caller verifies the server but
    presents no client certificate.
  - MutuallySecure: inner mTLS. The caller must present a trusted client
    certificate before the inner connection is usable.

Either way, once the inner handshake completes, an ordinary net.Conn
falls out the other end — on the server side it is handed to a
net/http.Server the same way any other listener connection would be; on
the client side it is handed back to the caller (see client.go) to drive
an HTTP/2 client connection or anything else that wants a plain
net.Conn.

The tunnel carries no protobuf schema, same as pkg/api: Frame is
marshaled with the same hand-written json grpc.Codec pattern as
pkg/api/codec.go (duplicated locally rather than imported, so this
package has no dependency on pkg/api and can run as its own gRPC
service on its own port).
*/
package tunnel
