package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/invoice-relay/ingest"
	"github.com/invoice-relay/store"
)

const ControlServiceName = "invoicerelay.Control"

// ControlServer is the gRPC control surface. Messages are protobuf
// well-known types so no generated code is needed.
type ControlServer interface {
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartRun(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	RecentLogs(context.Context, *wrapperspb.Int32Value) (*structpb.ListValue, error)
	ClearLogs(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Health", newEmpty, ControlServer.Health),
		unary("StartRun", newEmpty, ControlServer.StartRun),
		unary("Status", newEmpty, ControlServer.Status),
		unary("RecentLogs", func() *wrapperspb.Int32Value { return new(wrapperspb.Int32Value) }, ControlServer.RecentLogs),
		unary("ClearLogs", newEmpty, ControlServer.ClearLogs),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "invoicerelay/control.proto",
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }

func unary[Req proto.Message, Resp proto.Message](name string, newReq func() Req, call func(ControlServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ControlServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPCServer implements ControlServer.
type GRPCServer struct {
	runner Runner
	logs   LogFeed
	logger *slog.Logger
	// runs outlive the RPC that started them
	baseCtx context.Context
}

func NewGRPCServer(baseCtx context.Context, runner Runner, logs LogFeed, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{runner: runner, logs: logs, logger: logger, baseCtx: baseCtx}
}

// Register adds the control service and server reflection to g.
func (s *GRPCServer) Register(g *grpc.Server) {
	g.RegisterService(&ControlServiceDesc, s)
	reflection.Register(g)
}

// RunGRPCServer serves on lis until ctx is done.
func RunGRPCServer(ctx context.Context, lis net.Listener, srv *GRPCServer, logger *slog.Logger) error {
	g := grpc.NewServer()
	srv.Register(g)

	logger.Info("gRPC server listening", "addr", lis.Addr().String())
	go func() {
		<-ctx.Done()
		g.GracefulStop()
	}()

	if err := g.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *GRPCServer) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s.logger.Debug("Health check requested")
	return structpb.NewStruct(map[string]any{
		"healthy": true,
		"version": Version,
	})
}

func (s *GRPCServer) StartRun(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	err := s.runner.Start(s.baseCtx)
	switch {
	case errors.Is(err, ingest.ErrRunActive):
		return structpb.NewStruct(map[string]any{"status": "error", "message": msgAlreadyRunning})
	case err != nil:
		return nil, status.Errorf(codes.Internal, "failed to start run: %v", err)
	}
	s.logger.Info("Run requested over gRPC")
	return structpb.NewStruct(map[string]any{"status": "success", "message": msgStarted})
}

func (s *GRPCServer) Status(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.runner.Running()), nil
}

func (s *GRPCServer) RecentLogs(ctx context.Context, req *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	entries, err := s.logs.Recent(ctx, int(req.GetValue()))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to read logs: %v", err)
	}
	return entriesToList(entries)
}

func (s *GRPCServer) ClearLogs(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.logs.Clear(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to clear logs: %v", err)
	}
	return &emptypb.Empty{}, nil
}

func entriesToList(entries []store.LogEntry) (*structpb.ListValue, error) {
	items := make([]any, len(entries))
	for i, e := range entries {
		items[i] = map[string]any{
			"id":        e.ID,
			"timestamp": e.Timestamp,
			"level":     string(e.Level),
			"message":   e.Message,
		}
	}
	return structpb.NewList(items)
}

// ControlClient calls the control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.cc.Invoke(ctx, "/"+ControlServiceName+"/"+method, in, out)
}

func (c *ControlClient) Health(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "Health", &emptypb.Empty{}, out)
}

func (c *ControlClient) StartRun(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "StartRun", &emptypb.Empty{}, out)
}

func (c *ControlClient) Status(ctx context.Context) (bool, error) {
	out := new(wrapperspb.BoolValue)
	err := c.invoke(ctx, "Status", &emptypb.Empty{}, out)
	return out.GetValue(), err
}

func (c *ControlClient) RecentLogs(ctx context.Context, limit int32) ([]store.LogEntry, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, "RecentLogs", wrapperspb.Int32(limit), out); err != nil {
		return nil, err
	}
	entries := make([]store.LogEntry, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		f := v.GetStructValue().GetFields()
		entries = append(entries, store.LogEntry{
			ID:        int64(f["id"].GetNumberValue()),
			Timestamp: f["timestamp"].GetStringValue(),
			Level:     store.Level(f["level"].GetStringValue()),
			Message:   f["message"].GetStringValue(),
		})
	}
	return entries, nil
}

func (c *ControlClient) ClearLogs(ctx context.Context) error {
	return c.invoke(ctx, "ClearLogs", &emptypb.Empty{}, &emptypb.Empty{})
}
