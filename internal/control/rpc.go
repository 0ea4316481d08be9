package control

import (
	"context"

	"google.golang.org/grpc"
)

// The handlers below hand-bind *Server's methods to grpc.ServiceDesc the
// way protoc-gen-go-grpc generated code would, decoding/encoding through
// the gob codec registered in codec.go instead of generated marshalers.

func unaryHandler[Req any, Resp any](call func(*Server, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		if interceptor == nil {
			return call(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

func getChannelInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler((*Server).GetChannelInfo)(srv, ctx, dec, interceptor)
}

func listClientsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler((*Server).ListClients)(srv, ctx, dec, interceptor)
}

func getLeaseStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler((*Server).GetLeaseStatus)(srv, ctx, dec, interceptor)
}

func getStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler((*Server).GetStats)(srv, ctx, dec, interceptor)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)
	var req StreamFramesRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	return s.StreamFrames(&req, stream)
}

// ServiceDesc is the hand-written equivalent of a protoc-gen-go-grpc
// _ServiceDesc var, registered on a *grpc.Server with RegisterService
// the same way a generated RegisterControlServer(s, impl) would.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetChannelInfo", Handler: getChannelInfoHandler},
		{MethodName: "ListClients", Handler: listClientsHandler},
		{MethodName: "GetLeaseStatus", Handler: getLeaseStatusHandler},
		{MethodName: "GetStats", Handler: getStatsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "internal/control/service.go",
}

// RegisterServer registers impl on s using ServiceDesc. It sets no codec
// itself: incoming calls are decoded with the gob codec that codec.go
// registers, selected by the content-subtype a Client's calls carry.
func RegisterServer(s *grpc.Server, impl *Server) {
	s.RegisterService(&ServiceDesc, impl)
}
