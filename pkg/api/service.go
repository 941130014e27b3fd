package api

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service's fully-qualified name, used the same
// way a protoc-generated "package.Service" string would be.
const serviceName = "authly.Authly"

// authlyServer is the interface service.go dispatches onto; Server (in
// server.go) implements it. Kept separate from Server itself so tests can
// substitute a fake.
type authlyServer interface {
	ApplyDocument(context.Context, *ApplyDocumentRequest) (*ApplyDocumentResponse, error)
	TestPolicy(context.Context, *TestPolicyRequest) (*TestPolicyResponse, error)
	Authenticate(context.Context, *AuthenticateRequest) (*AuthenticateResponse, error)
	RequestAccessToken(context.Context, *RequestAccessTokenRequest) (*RequestAccessTokenResponse, error)
	IssueMandateSubmissionCode(context.Context, *IssueMandateSubmissionCodeRequest) (*IssueMandateSubmissionCodeResponse, error)
	SubmitMandate(context.Context, *SubmitMandateRequest) (*SubmitMandateResponse, error)
	FetchMandate(context.Context, *FetchMandateRequest) (*FetchMandateResponse, error)
	GenerateJoinToken(context.Context, *GenerateJoinTokenRequest) (*GenerateJoinTokenResponse, error)
	JoinCluster(context.Context, *JoinClusterRequest) (*JoinClusterResponse, error)
	ClusterStatus(context.Context, *ClusterStatusRequest) (*ClusterStatusResponse, error)
	Messages(*MessagesRequest, grpc.ServerStream) error
}

func unaryHandler[Req any](
	methodName string,
	call func(authlyServer, context.Context, *Req) (any, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + serviceName + "/" + methodName
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(authlyServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(authlyServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// serviceDesc is the hand-written analogue of a protoc-gen-go-grpc
// _ServiceDesc var: one MethodName/Handler pair per unary RPC, one
// StreamDesc per streaming RPC. Handlers call the codec's dec() to
// populate a typed request (the json codec registered in codec.go), then
// dispatch to the authlyServer implementation — the same shape generated
// code uses, just typed against plain structs instead of protobuf
// messages.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*authlyServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ApplyDocument",
			Handler: unaryHandler("ApplyDocument", func(s authlyServer, ctx context.Context, r *ApplyDocumentRequest) (any, error) {
				return s.ApplyDocument(ctx, r)
			}),
		},
		{
			MethodName: "TestPolicy",
			Handler: unaryHandler("TestPolicy", func(s authlyServer, ctx context.Context, r *TestPolicyRequest) (any, error) {
				return s.TestPolicy(ctx, r)
			}),
		},
		{
			MethodName: "Authenticate",
			Handler: unaryHandler("Authenticate", func(s authlyServer, ctx context.Context, r *AuthenticateRequest) (any, error) {
				return s.Authenticate(ctx, r)
			}),
		},
		{
			MethodName: "RequestAccessToken",
			Handler: unaryHandler("RequestAccessToken", func(s authlyServer, ctx context.Context, r *RequestAccessTokenRequest) (any, error) {
				return s.RequestAccessToken(ctx, r)
			}),
		},
		{
			MethodName: "IssueMandateSubmissionCode",
			Handler: unaryHandler("IssueMandateSubmissionCode", func(s authlyServer, ctx context.Context, r *IssueMandateSubmissionCodeRequest) (any, error) {
				return s.IssueMandateSubmissionCode(ctx, r)
			}),
		},
		{
			MethodName: "SubmitMandate",
			Handler: unaryHandler("SubmitMandate", func(s authlyServer, ctx context.Context, r *SubmitMandateRequest) (any, error) {
				return s.SubmitMandate(ctx, r)
			}),
		},
		{
			MethodName: "FetchMandate",
			Handler: unaryHandler("FetchMandate", func(s authlyServer, ctx context.Context, r *FetchMandateRequest) (any, error) {
				return s.FetchMandate(ctx, r)
			}),
		},
		{
			MethodName: "GenerateJoinToken",
			Handler: unaryHandler("GenerateJoinToken", func(s authlyServer, ctx context.Context, r *GenerateJoinTokenRequest) (any, error) {
				return s.GenerateJoinToken(ctx, r)
			}),
		},
		{
			MethodName: "JoinCluster",
			Handler: unaryHandler("JoinCluster", func(s authlyServer, ctx context.Context, r *JoinClusterRequest) (any, error) {
				return s.JoinCluster(ctx, r)
			}),
		},
		{
			MethodName: "ClusterStatus",
			Handler: unaryHandler("ClusterStatus", func(s authlyServer, ctx context.Context, r *ClusterStatusRequest) (any, error) {
				return s.ClusterStatus(ctx, r)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Messages",
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(MessagesRequest)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(authlyServer).Messages(req, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "authly.proto",
}

// RegisterAuthlyServer registers srv's RPCs onto s, the hand-written
// analogue of a protoc-generated RegisterXServer function.
func RegisterAuthlyServer(s grpc.ServiceRegistrar, srv authlyServer) {
	s.RegisterService(&serviceDesc, srv)
}
