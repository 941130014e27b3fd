package tunnel

import "google.golang.org/grpc"

// serviceName mirrors pkg/api/service.go's hand-written-ServiceDesc
// pattern: no protoc in the pack, so this is the same "package.Service"
// string a generated stub would carry.
const serviceName = "authly.AuthlyConnect"

// tunnelServer is the interface Server (in server.go) implements.
type tunnelServer interface {
	Secure(grpc.ServerStream) error
	MutuallySecure(grpc.ServerStream) error
}

func streamHandler(call func(tunnelServer, grpc.ServerStream) error) func(srv any, stream grpc.ServerStream) error {
	return func(srv any, stream grpc.ServerStream) error {
		return call(srv.(tunnelServer), stream)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*tunnelServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: string(Secure),
			Handler: streamHandler(func(s tunnelServer, stream grpc.ServerStream) error {
				return s.Secure(stream)
			}),
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName: string(MutuallySecure),
			Handler: streamHandler(func(s tunnelServer, stream grpc.ServerStream) error {
				return s.MutuallySecure(stream)
			}),
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "authly_connect.proto",
}

// RegisterAuthlyConnectServer registers srv's tunnel RPCs onto s.
func RegisterAuthlyConnectServer(s grpc.ServiceRegistrar, srv tunnelServer) {
	s.RegisterService(&serviceDesc, srv)
}
