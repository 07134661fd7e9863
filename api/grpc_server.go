package api

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/Blockless-Engine/arrow"
	"github.com/VanDung-dev/Blockless-Engine/engine"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Version is the current engine version.
const Version = "0.1.0"

// TaskServiceName is the fully qualified gRPC service name.
const TaskServiceName = "blockless.TaskService"

// TaskMessage is a task on the wire. Priority must fit in a uint8.
type TaskMessage struct {
	Priority uint32 `json:"priority"`
	Payload  string `json:"payload"`
}

// EnqueueRequest carries tasks to add to the queue.
type EnqueueRequest struct {
	Tasks []TaskMessage `json:"tasks"`
}

// EnqueueResponse reports how many tasks were accepted.
type EnqueueResponse struct {
	Accepted  int `json:"accepted"`
	QueueSize int `json:"queue_size"`
}

// DispatchRequest triggers a dispatch round. IncludeArrow asks for the
// round report as an Arrow IPC stream in addition to the JSON results.
type DispatchRequest struct {
	IncludeArrow bool `json:"include_arrow,omitempty"`
}

// ResultMessage is the outcome of one task in a round.
type ResultMessage struct {
	Worker   int    `json:"worker"`
	Seq      int    `json:"seq"`
	Priority uint32 `json:"priority"`
	Payload  string `json:"payload"`
	Error    string `json:"error,omitempty"`
}

// DispatchResponse summarizes a dispatch round.
type DispatchResponse struct {
	RoundID    string          `json:"round_id"`
	Executed   int             `json:"executed"`
	Failed     int             `json:"failed"`
	DurationMs int64           `json:"duration_ms"`
	Results    []ResultMessage `json:"results"`
	ReportIPC  []byte          `json:"report_ipc,omitempty"`
}

// HealthRequest is the empty health probe.
type HealthRequest struct{}

// HealthResponse reports engine health and statistics.
type HealthResponse struct {
	Healthy       bool                  `json:"healthy"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Stats         engine.SchedulerStats `json:"stats"`
}

// TaskService is the gRPC task service.
type TaskService interface {
	Enqueue(context.Context, *EnqueueRequest) (*EnqueueResponse, error)
	Dispatch(context.Context, *DispatchRequest) (*DispatchResponse, error)
	HealthCheck(context.Context, *HealthRequest) (*HealthResponse, error)
}

var taskServiceDesc = grpc.ServiceDesc{
	ServiceName: TaskServiceName,
	HandlerType: (*TaskService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enqueue", Handler: enqueueHandler},
		{MethodName: "Dispatch", Handler: dispatchHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blockless/task_service",
}

func enqueueHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EnqueueRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).Enqueue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + TaskServiceName + "/Enqueue"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TaskService).Enqueue(ctx, req.(*EnqueueRequest))
	})
}

func dispatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DispatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + TaskServiceName + "/Dispatch"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TaskService).Dispatch(ctx, req.(*DispatchRequest))
	})
}

func healthCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + TaskServiceName + "/HealthCheck"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TaskService).HealthCheck(ctx, req.(*HealthRequest))
	})
}

// GRPCServer serves TaskService over a scheduler.
type GRPCServer struct {
	scheduler *engine.Scheduler
	metrics   *Metrics
	logger    *zap.Logger
	codec     *arrow.IPCCodec

	grpcServer *grpc.Server
	listener   net.Listener
	startTime  time.Time

	running bool
	mu      sync.RWMutex
}

var _ TaskService = (*GRPCServer)(nil)

// NewGRPCServer creates a server. metrics and logger may be nil.
func NewGRPCServer(scheduler *engine.Scheduler, metrics *Metrics, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger,
		codec:     arrow.NewIPCCodec(),
		startTime: time.Now(),
	}
}

// StartAsync starts the gRPC server and returns immediately.
func (s *GRPCServer) StartAsync(address string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
		grpc.UnaryInterceptor(s.metricsInterceptor),
	)
	s.grpcServer.RegisterService(&taskServiceDesc, s)

	s.running = true
	s.startTime = time.Now()
	srv := s.grpcServer
	s.mu.Unlock()

	go func() {
		_ = srv.Serve(lis)
	}()

	s.logger.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil when not started.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the gRPC server.
func (s *GRPCServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv := s.grpcServer
	s.mu.Unlock()

	// In-flight calls may still need s.mu.
	srv.GracefulStop()
}

// Enqueue adds tasks to the scheduler queue. The batch is rejected as a
// whole if any priority does not fit in a uint8.
func (s *GRPCServer) Enqueue(_ context.Context, req *EnqueueRequest) (*EnqueueResponse, error) {
	if req == nil || len(req.Tasks) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty task batch")
	}
	for i, task := range req.Tasks {
		if task.Priority > 255 {
			return nil, status.Errorf(codes.InvalidArgument, "task %d: priority %d out of range 0-255", i, task.Priority)
		}
	}

	for _, task := range req.Tasks {
		s.scheduler.AddTask(uint8(task.Priority), task.Payload)
	}
	return &EnqueueResponse{
		Accepted:  len(req.Tasks),
		QueueSize: s.scheduler.Queue().Len(),
	}, nil
}

// Dispatch runs one dispatch round and returns its report.
func (s *GRPCServer) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchResponse, error) {
	report := s.scheduler.DispatchRound(ctx)

	resp := &DispatchResponse{
		RoundID:    report.ID,
		Executed:   report.Executed(),
		Failed:     report.Failed(),
		DurationMs: report.Duration.Milliseconds(),
		Results:    make([]ResultMessage, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		msg := ResultMessage{
			Worker:   res.WorkerID,
			Seq:      res.Seq,
			Priority: uint32(res.Task.Priority),
			Payload:  res.Task.Payload,
		}
		if res.Err != nil {
			msg.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, msg)
	}

	if req != nil && req.IncludeArrow {
		data, err := s.codec.EncodeReport(report)
		if err != nil {
			s.logger.Error("Failed to encode round report", zap.String("round", report.ID), zap.Error(err))
			return nil, status.Errorf(codes.Internal, "encode report: %v", err)
		}
		resp.ReportIPC = data
	}
	return resp, nil
}

// HealthCheck returns the health status of the engine.
func (s *GRPCServer) HealthCheck(_ context.Context, _ *HealthRequest) (*HealthResponse, error) {
	s.mu.RLock()
	running := s.running
	startTime := s.startTime
	s.mu.RUnlock()

	return &HealthResponse{
		Healthy:       running,
		Version:       Version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Stats:         s.scheduler.Stats(),
	}, nil
}

func (s *GRPCServer) metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
	}
	return resp, err
}

// TaskClient calls TaskService over a client connection.
type TaskClient struct {
	conn grpc.ClientConnInterface
}

// NewTaskClient wraps conn.
func NewTaskClient(conn grpc.ClientConnInterface) *TaskClient {
	return &TaskClient{conn: conn}
}

func (c *TaskClient) invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.ForceCodec(jsonCodec{})}, opts...)
	return c.conn.Invoke(ctx, "/"+TaskServiceName+"/"+method, in, out, opts...)
}

// Enqueue adds tasks on the server.
func (c *TaskClient) Enqueue(ctx context.Context, in *EnqueueRequest, opts ...grpc.CallOption) (*EnqueueResponse, error) {
	out := new(EnqueueResponse)
	if err := c.invoke(ctx, "Enqueue", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Dispatch runs a dispatch round on the server.
func (c *TaskClient) Dispatch(ctx context.Context, in *DispatchRequest, opts ...grpc.CallOption) (*DispatchResponse, error) {
	out := new(DispatchResponse)
	if err := c.invoke(ctx, "Dispatch", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck probes the server.
func (c *TaskClient) HealthCheck(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.invoke(ctx, "HealthCheck", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
