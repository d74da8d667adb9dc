package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ServiceName полное имя gRPC сервиса агента
	ServiceName = "shortenurl.v1.AgentService"

	DeliverMethod  = "/" + ServiceName + "/Deliver"
	DiscoverMethod = "/" + ServiceName + "/Discover"
)

// AgentServiceServer представляет интерфейс gRPC сервиса агента
type AgentServiceServer interface {
	Deliver(ctx context.Context, req *DeliverRequest) (*DeliverResponse, error)
	Discover(ctx context.Context, req *DiscoverRequest) (*DiscoverResponse, error)
}

// UnimplementedAgentServiceServer предоставляет базовую реализацию интерфейса
type UnimplementedAgentServiceServer struct{}

// Deliver возвращает Unimplemented
func (UnimplementedAgentServiceServer) Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Deliver not implemented")
}

// Discover возвращает Unimplemented
func (UnimplementedAgentServiceServer) Discover(context.Context, *DiscoverRequest) (*DiscoverResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Discover not implemented")
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DeliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func discoverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DiscoverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).Discover(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DiscoverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).Discover(ctx, req.(*DiscoverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AgentServiceDesc описание сервиса для регистрации в gRPC сервере
var AgentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Discover", Handler: discoverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shortenurl/v1/agent.proto",
}

// RegisterAgentServiceServer регистрирует реализацию сервиса в gRPC сервере
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&AgentServiceDesc, srv)
}

// AgentServiceClient клиент сервиса агента
type AgentServiceClient interface {
	Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error)
	Discover(ctx context.Context, in *DiscoverRequest, opts ...grpc.CallOption) (*DiscoverResponse, error)
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentServiceClient создаёт клиента поверх соединения
func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc: cc}
}

func (c *agentServiceClient) Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error) {
	out := new(DeliverResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec())}, opts...)
	if err := c.cc.Invoke(ctx, DeliverMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) Discover(ctx context.Context, in *DiscoverRequest, opts ...grpc.CallOption) (*DiscoverResponse, error) {
	out := new(DiscoverResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec())}, opts...)
	if err := c.cc.Invoke(ctx, DiscoverMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
