package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "mvlease.LeaseStore"

// LeaseStoreServer is the server side of the lease store service.
type LeaseStoreServer interface {
	FindOne(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Find(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReplaceOne(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteOne(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var leaseStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LeaseStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FindOne", Handler: _LeaseStore_FindOne_Handler},
		{MethodName: "Find", Handler: _LeaseStore_Find_Handler},
		{MethodName: "ReplaceOne", Handler: _LeaseStore_ReplaceOne_Handler},
		{MethodName: "DeleteOne", Handler: _LeaseStore_DeleteOne_Handler},
	},
}

// RegisterLeaseStoreServer attaches srv to s.
func RegisterLeaseStoreServer(s grpc.ServiceRegistrar, srv LeaseStoreServer) {
	s.RegisterService(&leaseStoreServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unaryHandler(name string, call func(LeaseStoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LeaseStoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LeaseStoreServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	_LeaseStore_FindOne_Handler    = unaryHandler("FindOne", LeaseStoreServer.FindOne)
	_LeaseStore_Find_Handler       = unaryHandler("Find", LeaseStoreServer.Find)
	_LeaseStore_ReplaceOne_Handler = unaryHandler("ReplaceOne", LeaseStoreServer.ReplaceOne)
	_LeaseStore_DeleteOne_Handler  = unaryHandler("DeleteOne", LeaseStoreServer.DeleteOne)
)

// leaseStoreClient is the client stub.
type leaseStoreClient struct {
	cc grpc.ClientConnInterface
}

func (c *leaseStoreClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
