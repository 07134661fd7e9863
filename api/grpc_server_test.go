package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/VanDung-dev/Blockless-Engine/arrow"
	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

func startGRPC(t *testing.T, exec engine.Executor) (*TaskClient, *engine.Scheduler, *Metrics) {
	t.Helper()

	scheduler := engine.NewScheduler(1, engine.WithExecutor(exec))
	metrics := NewMetrics("test")
	server := NewGRPCServer(scheduler, metrics, nil)
	if err := server.StartAsync("127.0.0.1:0"); err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(server.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return NewTaskClient(conn), scheduler, metrics
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGRPCEnqueueAndDispatch(t *testing.T) {
	var order []string
	exec := engine.ExecutorFunc(func(_ context.Context, task engine.Task) error {
		order = append(order, task.Payload)
		if task.Payload == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	client, scheduler, metrics := startGRPC(t, exec)
	ctx := testContext(t)

	resp, err := client.Enqueue(ctx, &EnqueueRequest{Tasks: []TaskMessage{
		{Priority: 1, Payload: "last"},
		{Priority: 200, Payload: "first"},
		{Priority: 50, Payload: "bad"},
	}})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if resp.Accepted != 3 || resp.QueueSize != 3 {
		t.Errorf("Unexpected enqueue response: %+v", resp)
	}

	report, err := client.Dispatch(ctx, &DispatchRequest{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if report.Executed != 3 || report.Failed != 1 {
		t.Errorf("Unexpected dispatch response: %+v", report)
	}
	if report.RoundID == "" {
		t.Error("Expected a round ID")
	}
	if len(report.Results) != 3 || report.Results[1].Error == "" {
		t.Errorf("Expected the second result to carry an error: %+v", report.Results)
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "last" {
		t.Errorf("Unexpected execution order: %v", order)
	}
	if scheduler.Queue().Len() != 0 {
		t.Error("Expected empty queue after dispatch")
	}

	if got := testutil.ToFloat64(metrics.GRPCRequestsTotal.WithLabelValues("/blockless.TaskService/Enqueue", "OK")); got != 1 {
		t.Errorf("Expected 1 recorded Enqueue, got %v", got)
	}
}

func TestGRPCEnqueueInvalid(t *testing.T) {
	client, scheduler, _ := startGRPC(t, nil)
	ctx := testContext(t)

	_, err := client.Enqueue(ctx, &EnqueueRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument for empty batch, got %v", err)
	}

	_, err = client.Enqueue(ctx, &EnqueueRequest{Tasks: []TaskMessage{
		{Priority: 1, Payload: "ok"},
		{Priority: 256, Payload: "too high"},
	}})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument for priority 256, got %v", err)
	}
	if scheduler.Queue().Len() != 0 {
		t.Error("Rejected batch must not enqueue tasks")
	}
}

func TestGRPCDispatchEmpty(t *testing.T) {
	client, _, _ := startGRPC(t, nil)

	report, err := client.Dispatch(testContext(t), &DispatchRequest{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if report.Executed != 0 || len(report.Results) != 0 {
		t.Errorf("Expected empty round, got %+v", report)
	}
}

func TestGRPCHealthCheck(t *testing.T) {
	client, _, _ := startGRPC(t, nil)

	resp, err := client.HealthCheck(testContext(t), &HealthRequest{})
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !resp.Healthy {
		t.Error("Expected healthy=true")
	}
	if resp.Version != Version {
		t.Errorf("Expected version %s, got %s", Version, resp.Version)
	}
	if resp.Stats.Workers != 1 {
		t.Errorf("Expected 1 worker in stats, got %d", resp.Stats.Workers)
	}
}

func TestGRPCServerStopIdempotent(t *testing.T) {
	server := NewGRPCServer(engine.NewScheduler(1), nil, nil)
	if err := server.StartAsync("127.0.0.1:0"); err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	if err := server.StartAsync("127.0.0.1:0"); err == nil {
		t.Error("Expected error starting a running server")
	}

	server.Stop()
	server.Stop()

	resp, _ := server.HealthCheck(context.Background(), &HealthRequest{})
	if resp.Healthy {
		t.Error("Expected healthy=false after Stop")
	}
}

func TestGRPCDispatchArrowReport(t *testing.T) {
	client, _, _ := startGRPC(t, nil)
	ctx := testContext(t)

	if _, err := client.Enqueue(ctx, &EnqueueRequest{Tasks: []TaskMessage{
		{Priority: 3, Payload: "a"},
		{Priority: 7, Payload: "b"},
	}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	resp, err := client.Dispatch(ctx, &DispatchRequest{IncludeArrow: true})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(resp.ReportIPC) == 0 {
		t.Fatal("Expected an Arrow report")
	}

	records, err := arrow.NewIPCCodec().Deserialize(resp.ReportIPC)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if got, want := records[0].Schema().NumFields(), arrow.ReportSchema().NumFields(); got != want {
		t.Errorf("Expected %d report columns, got %d", want, got)
	}
	if records[0].NumRows() != int64(resp.Executed) {
		t.Errorf("Expected %d rows, got %d", resp.Executed, records[0].NumRows())
	}

	plain, err := client.Dispatch(ctx, &DispatchRequest{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if plain.ReportIPC != nil {
		t.Error("Expected no Arrow report unless requested")
	}
}
