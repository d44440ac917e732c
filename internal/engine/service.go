package engine

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// unaryHandler decodes one request and runs it against impl.
type unaryHandler func(ctx context.Context, impl Engine, req *structpb.Struct) (any, error)

func noResult(err error) (any, error) {
	return nil, err
}

func withArgs[T any](run func(context.Context, Engine, T) (any, error)) unaryHandler {
	return func(ctx context.Context, impl Engine, req *structpb.Struct) (any, error) {
		var args T
		if err := decodeStruct(req, &args); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return run(ctx, impl, args)
	}
}

var unaryHandlers = map[string]unaryHandler{
	"Bootstrap": withArgs(func(ctx context.Context, e Engine, a resourceArgs) (any, error) {
		return e.Bootstrap(ctx, a.ResourcePath)
	}),
	"SetCid": withArgs(func(ctx context.Context, e Engine, a cidArgs) (any, error) {
		return noResult(e.SetCid(ctx, a.CID))
	}),
	"SetRadioGain": withArgs(func(ctx context.Context, e Engine, a gainArgs) (any, error) {
		return noResult(e.SetRadioGain(ctx, a.Gain))
	}),
	"SetHardwareType": withArgs(func(ctx context.Context, e Engine, a hardwareArgs) (any, error) {
		return noResult(e.SetHardwareType(ctx, a.HardwareType))
	}),
	"SetAudioSettings": withArgs(func(ctx context.Context, e Engine, a AudioSettings) (any, error) {
		return noResult(e.SetAudioSettings(ctx, a))
	}),
	"GetAudioApis": withArgs(func(ctx context.Context, e Engine, _ emptyArgs) (any, error) {
		return e.GetAudioApis(ctx)
	}),
	"GetAudioInputDevices": withArgs(func(ctx context.Context, e Engine, a apiArgs) (any, error) {
		return e.GetAudioInputDevices(ctx, a.APIID)
	}),
	"GetAudioOutputDevices": withArgs(func(ctx context.Context, e Engine, a apiArgs) (any, error) {
		return e.GetAudioOutputDevices(ctx, a.APIID)
	}),
	"Connect": withArgs(func(ctx context.Context, e Engine, a passwordArgs) (any, error) {
		return e.Connect(ctx, a.Password)
	}),
	"Disconnect": withArgs(func(ctx context.Context, e Engine, _ emptyArgs) (any, error) {
		return noResult(e.Disconnect(ctx))
	}),
	"IsConnected": withArgs(func(ctx context.Context, e Engine, _ emptyArgs) (any, error) {
		return e.IsConnected(ctx)
	}),
	"AddFrequency": withArgs(func(ctx context.Context, e Engine, a frequencyArgs) (any, error) {
		return e.AddFrequency(ctx, a.Frequency, a.Callsign)
	}),
	"RemoveFrequency": withArgs(func(ctx context.Context, e Engine, a frequencyArgs) (any, error) {
		return noResult(e.RemoveFrequency(ctx, a.Frequency))
	}),
	"SetFrequencyState": withArgs(func(ctx context.Context, e Engine, a frequencyStateArgs) (any, error) {
		return e.SetFrequencyState(ctx, a.Frequency, a.FrequencyState)
	}),
	"GetFrequencyState": withArgs(func(ctx context.Context, e Engine, a frequencyArgs) (any, error) {
		return e.GetFrequencyState(ctx, a.Frequency)
	}),
	"IsFrequencyActive": withArgs(func(ctx context.Context, e Engine, a frequencyArgs) (any, error) {
		return e.IsFrequencyActive(ctx, a.Frequency)
	}),
	"GetStation": withArgs(func(ctx context.Context, e Engine, a callsignArgs) (any, error) {
		return noResult(e.GetStation(ctx, a.Callsign))
	}),
	"RefreshStation": withArgs(func(ctx context.Context, e Engine, a callsignArgs) (any, error) {
		return noResult(e.RefreshStation(ctx, a.Callsign))
	}),
	"SetupPttBegin": withArgs(func(ctx context.Context, e Engine, _ emptyArgs) (any, error) {
		return noResult(e.SetupPttBegin(ctx))
	}),
	"RequestPttKeyName": withArgs(func(ctx context.Context, e Engine, _ emptyArgs) (any, error) {
		return noResult(e.RequestPttKeyName(ctx))
	}),
	"StartMicTest": withArgs(func(ctx context.Context, e Engine, _ emptyArgs) (any, error) {
		return noResult(e.StartMicTest(ctx))
	}),
	"StopMicTest": withArgs(func(ctx context.Context, e Engine, _ emptyArgs) (any, error) {
		return noResult(e.StopMicTest(ctx))
	}),
}

// RegisterService exposes impl as the engine gRPC service on s.
func RegisterService(s grpc.ServiceRegistrar, impl Engine) {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Engine)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    eventsStream,
			Handler:       serveEvents,
			ServerStreams: true,
		}},
	}
	for name, handler := range unaryHandlers {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryMethod(name, handler),
		})
	}
	s.RegisterService(&desc, impl)
}

func unaryMethod(name string, handler unaryHandler) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		run := func(ctx context.Context, req any) (any, error) {
			result, err := handler(ctx, srv.(Engine), req.(*structpb.Struct))
			if err != nil {
				return nil, err
			}
			return encodeStruct(resultEnvelope{Result: result})
		}
		if interceptor == nil {
			return run(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPath(name)}
		return interceptor(ctx, req, info, run)
	}
}

func serveEvents(srv any, stream grpc.ServerStream) error {
	if err := stream.RecvMsg(&structpb.Struct{}); err != nil {
		return err
	}

	events, err := srv.(Engine).Events(stream.Context())
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg, err := encodeStruct(ev)
			if err != nil {
				return fmt.Errorf("encode engine event: %w", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}
