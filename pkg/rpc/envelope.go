package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Reserved keys carried inside the envelope Struct alongside the
// operation's keyword arguments. Kept out of band from a generated
// message so the wire shape never needs a protoc regeneration to add a
// field.
const (
	keyTopic     = "_topic"
	keyOperation = "_operation"
	keyCaller    = "_caller"
	keyErrorCode = "_error_code"
)

// envelopeServer is the interface the hand-written ServiceDesc below
// dispatches to. It stands in for what protoc-gen-go-grpc would otherwise
// generate from a .proto file; there is exactly one RPC method because
// every EPU operation is multiplexed through the same topic/operation
// keyword-args shape.
type envelopeServer interface {
	Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var envelopeServiceDesc = grpc.ServiceDesc{
	ServiceName: "epu.rpc.Envelope",
	HandlerType: (*envelopeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: envelopeInvokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/rpc/envelope",
}

func envelopeInvokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(envelopeServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/epu.rpc.Envelope/Invoke",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(envelopeServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// encodeRequest packs topic/operation/caller and the keyword args into a
// single Struct for the wire.
func encodeRequest(topic, operation, caller string, kwargs map[string]any) (*structpb.Struct, error) {
	fields := make(map[string]any, len(kwargs)+3)
	for k, v := range kwargs {
		fields[k] = v
	}
	fields[keyTopic] = topic
	fields[keyOperation] = operation
	if caller != "" {
		fields[keyCaller] = caller
	}
	return structpb.NewStruct(fields)
}

// decodeRequest splits a wire Struct back into its envelope fields and
// the operation's keyword arguments.
func decodeRequest(req *structpb.Struct) (topic, operation, caller string, kwargs map[string]any) {
	kwargs = req.AsMap()
	if v, ok := kwargs[keyTopic].(string); ok {
		topic = v
		delete(kwargs, keyTopic)
	}
	if v, ok := kwargs[keyOperation].(string); ok {
		operation = v
		delete(kwargs, keyOperation)
	}
	if v, ok := kwargs[keyCaller].(string); ok {
		caller = v
		delete(kwargs, keyCaller)
	}
	return topic, operation, caller, kwargs
}
