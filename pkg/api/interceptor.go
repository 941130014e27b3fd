package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows
// read-only operations. NewServer does not chain it into the mTLS server,
// which must accept every RPC, and no listener in this module installs it.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on the local socket - use the mTLS listener instead",
			)
		}
		return handler(ctx, req)
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only.
func isReadOnlyMethod(method string) bool {
	// Extract method name from full path (e.g., "/authly.Authly/ClusterStatus" -> "ClusterStatus")
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	readOnlyMethods := []string{
		"TestPolicy",
		"FetchMandate",
		"ClusterStatus",
		"Messages",
	}
	for _, allowed := range readOnlyMethods {
		if methodName == allowed {
			return true
		}
	}
	return false
}
