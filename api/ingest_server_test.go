package api

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/VanDung-dev/Blockless-Engine/arrow"
	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func startIngestServer(t *testing.T, opts ...IngestOption) (*IngestServer, *engine.Scheduler, *Metrics) {
	t.Helper()

	scheduler := engine.NewScheduler(2)
	metrics := NewMetrics("test")
	server := NewIngestServer(NewIngestHandler(scheduler, metrics, nil), opts...)
	if err := server.StartAsync("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Stop)
	return server, scheduler, metrics
}

func dial(t *testing.T, server *IngestServer) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func encodeTasks(t *testing.T, tasks ...engine.Task) []byte {
	t.Helper()

	data, err := arrow.NewIPCCodec().EncodeTasks(tasks)
	if err != nil {
		t.Fatalf("EncodeTasks failed: %v", err)
	}
	return data
}

func sendBatch(t *testing.T, conn net.Conn, data []byte) string {
	t.Helper()

	if err := WriteMessage(conn, data); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return string(reply)
}

func TestIngestServerEnqueuesBatch(t *testing.T) {
	server, scheduler, metrics := startIngestServer(t)
	conn := dial(t, server)

	reply := sendBatch(t, conn, encodeTasks(t,
		engine.Task{Priority: 3, Payload: "low"},
		engine.Task{Priority: 9, Payload: "high"},
	))
	if reply != "OK 2" {
		t.Fatalf("Expected 'OK 2', got %q", reply)
	}

	snap := scheduler.Queue().Snapshot()
	if len(snap) != 2 || snap[0].Payload != "high" {
		t.Errorf("Unexpected queue contents: %v", snap)
	}
	if got := testutil.ToFloat64(metrics.BatchesTotal); got != 1 {
		t.Errorf("Expected 1 batch recorded, got %v", got)
	}

	// The connection stays open for further batches.
	if reply := sendBatch(t, conn, encodeTasks(t, engine.Task{Priority: 1, Payload: "more"})); reply != "OK 1" {
		t.Errorf("Expected 'OK 1', got %q", reply)
	}
}

func TestIngestServerRejectsGarbage(t *testing.T) {
	server, scheduler, _ := startIngestServer(t)
	conn := dial(t, server)

	reply := sendBatch(t, conn, []byte("not arrow"))
	if !strings.HasPrefix(reply, "ERR ") {
		t.Errorf("Expected ERR reply, got %q", reply)
	}
	if _, err := ParseReply([]byte(reply)); !errors.Is(err, ErrRejected) {
		t.Errorf("Expected ErrRejected, got %v", err)
	}
	if scheduler.Queue().Len() != 0 {
		t.Error("Rejected batch must not enqueue tasks")
	}

	// A bad batch does not close the connection.
	if reply := sendBatch(t, conn, encodeTasks(t, engine.Task{Priority: 1, Payload: "ok"})); reply != "OK 1" {
		t.Errorf("Expected 'OK 1', got %q", reply)
	}
}

func TestIngestServerAuth(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "secret"})
	server, scheduler, _ := startIngestServer(t, WithAuthenticator(auth))

	conn := dial(t, server)
	if err := Authenticate(conn, "secret"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if reply := sendBatch(t, conn, encodeTasks(t, engine.Task{Priority: 1, Payload: "a"})); reply != "OK 1" {
		t.Errorf("Expected 'OK 1', got %q", reply)
	}
	if scheduler.Queue().Len() != 1 {
		t.Errorf("Expected 1 queued task, got %d", scheduler.Queue().Len())
	}
}

func TestIngestServerAuthWrongToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "secret"})
	server, _, _ := startIngestServer(t, WithAuthenticator(auth))

	conn := dial(t, server)
	if err := Authenticate(conn, "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Expected ErrAuthFailed, got %v", err)
	}
}

func TestIngestServerAuthRequired(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, Token: "secret"})
	server, scheduler, _ := startIngestServer(t, WithAuthenticator(auth))

	conn := dial(t, server)
	reply := sendBatch(t, conn, encodeTasks(t, engine.Task{Priority: 1, Payload: "a"}))
	if reply != "ERR "+ErrAuthRequired.Error() {
		t.Errorf("Expected auth required reply, got %q", reply)
	}
	if scheduler.Queue().Len() != 0 {
		t.Error("Unauthenticated batch must not enqueue tasks")
	}
	if _, err := ReadMessage(conn); err == nil {
		t.Error("Expected connection to be closed")
	}
}

func TestIngestServerAuthDisabledAcceptsHandshake(t *testing.T) {
	server, _, _ := startIngestServer(t)
	conn := dial(t, server)

	if err := Authenticate(conn, "anything"); err != nil {
		t.Errorf("Handshake must succeed when auth is disabled, got %v", err)
	}
}

func TestIngestServerDoubleStart(t *testing.T) {
	server, _, _ := startIngestServer(t)

	if err := server.StartAsync("127.0.0.1:0"); err == nil {
		t.Error("Expected error starting a running server")
	}
}
