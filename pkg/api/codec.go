package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is both the grpc.Codec Name() and the -content-subtype
// negotiated on the wire (spec §4.7's gRPC surface carries no protobuf
// schema; messages are the plain structs in messages.go).
const jsonCodecName = "json"

// jsonCodec implements encoding.Codec by delegating straight to
// encoding/json. The server is started with grpc.ForceServerCodec(this)
// so every RPC uses it regardless of a client's declared subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
