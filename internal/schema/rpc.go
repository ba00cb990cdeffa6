package schema

import (
	"context"
	"fmt"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// UnaryFunc is a Struct-in/Struct-out RPC implementation.
type UnaryFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc builds a grpc.ServiceDesc for a service declared in file. Every
// method the file declares must have an implementation, and vice versa.
func ServiceDesc(file, service string, methods map[string]UnaryFunc) (*grpc.ServiceDesc, error) {
	sd, err := Service(file, service)
	if err != nil {
		return nil, err
	}
	for _, md := range sd.GetMethods() {
		if _, ok := methods[md.GetName()]; !ok {
			return nil, fmt.Errorf("%s: method %s not implemented", service, md.GetName())
		}
		if md.IsClientStreaming() || md.IsServerStreaming() {
			return nil, fmt.Errorf("%s: streaming method %s unsupported", service, md.GetName())
		}
	}

	names := make([]string, 0, len(methods))
	for name := range methods {
		if sd.FindMethodByName(name) == nil {
			return nil, fmt.Errorf("%s: method %s not declared in %s", service, name, file)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := &grpc.ServiceDesc{
		ServiceName: service,
		HandlerType: (*any)(nil),
		Metadata:    file,
	}
	for _, name := range names {
		out.Methods = append(out.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler("/"+service+"/"+name, methods[name]),
		})
	}
	return out, nil
}

func unaryHandler(fullMethod string, fn UnaryFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Invoke calls a Struct-in/Struct-out method on conn.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// StringField reads a required string field from a request.
func StringField(req *structpb.Struct, name string) (string, error) {
	value, ok := req.GetFields()[name]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	str, ok := value.GetKind().(*structpb.Value_StringValue)
	if !ok || str.StringValue == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s must be a non-empty string", name)
	}
	return str.StringValue, nil
}

// NumberField reads a required number field from a request.
func NumberField(req *structpb.Struct, name string) (float64, error) {
	value, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	num, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	return num.NumberValue, nil
}

// NewStruct converts a plain map into a response message.
func NewStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
