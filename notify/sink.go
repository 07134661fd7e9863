package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Sink delivers one message to an external collaborator.
type Sink interface {
	Send(ctx context.Context, message string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, message string) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, message string) error {
	return f(ctx, message)
}

// HTTPSink posts each message to a fixed endpoint.
type HTTPSink struct {
	Client   *Client
	Endpoint string
}

// Send posts message to the sink endpoint.
func (s HTTPSink) Send(ctx context.Context, message string) error {
	_, err := s.Client.Post(ctx, s.Endpoint, message)
	return err
}

// ZmqSink pushes each message as a single frame on a PUSH socket.
type ZmqSink struct {
	mu     sync.Mutex
	socket zmq4.Socket
	cancel context.CancelFunc
	closed bool
}

// NewZmqSink dials endpoint (for example "tcp://127.0.0.1:5557") with a
// PUSH socket.
func NewZmqSink(endpoint string) (*ZmqSink, error) {
	ctx, cancel := context.WithCancel(context.Background())
	socket := zmq4.NewPush(ctx)
	if err := socket.Dial(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return &ZmqSink{socket: socket, cancel: cancel}, nil
}

// Send pushes message. PUSH sockets do not accept a per-call context, so
// ctx is only checked before sending.
func (s *ZmqSink) Send(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotifierClosed
	}
	if err := s.socket.Send(zmq4.NewMsg([]byte(message))); err != nil {
		return fmt.Errorf("zmq send: %w", err)
	}
	return nil
}

// Close closes the socket.
func (s *ZmqSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.socket.Close()
	s.cancel()
	return err
}

// MultiSink sends each message to every sink. Sinks are tried in order;
// failures are joined and do not stop later sinks.
type MultiSink []Sink

// Send delivers message to all sinks.
func (m MultiSink) Send(ctx context.Context, message string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
