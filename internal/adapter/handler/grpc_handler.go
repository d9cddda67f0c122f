package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/stock-count/internal/core/service"
)

const countServiceName = "stockcount.CountService"

// jsonCodec lets clients speak to the count service without generated stubs.
// Clients select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CountServiceServer is the gRPC surface of the count service.
type CountServiceServer interface {
	Submit(ctx context.Context, req *CountRequest) (*CountResponse, error)
}

var CountServiceDesc = grpc.ServiceDesc{
	ServiceName: countServiceName,
	HandlerType: (*CountServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockcount/count.proto",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CountServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + countServiceName + "/Submit",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CountServiceServer).Submit(ctx, req.(*CountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func RegisterCountServiceServer(s grpc.ServiceRegistrar, srv CountServiceServer) {
	s.RegisterService(&CountServiceDesc, srv)
}

type GRPCHandler struct {
	countService *service.CountService
}

func NewGRPCHandler(countService *service.CountService) *GRPCHandler {
	return &GRPCHandler{countService: countService}
}

// Submit reports every outcome in the response body, including failures.
func (h *GRPCHandler) Submit(ctx context.Context, req *CountRequest) (*CountResponse, error) {
	_, resp := submit(ctx, h.countService, *req)
	return &resp, nil
}

// CountServiceClient calls the count service over a JSON-coded connection.
type CountServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCountServiceClient(cc grpc.ClientConnInterface) *CountServiceClient {
	return &CountServiceClient{cc: cc}
}

func (c *CountServiceClient) Submit(ctx context.Context, req *CountRequest, opts ...grpc.CallOption) (*CountResponse, error) {
	out := new(CountResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype("json")}, opts...)
	if err := c.cc.Invoke(ctx, "/"+countServiceName+"/Submit", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
