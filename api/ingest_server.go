package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// IngestServer is a TCP server accepting length-prefixed Arrow IPC task
// batches. Each batch is answered with "OK <n>" or "ERR <reason>".
//
// When auth is enabled the first frame on a connection must be an
// AuthMessage; connections that fail the handshake are closed.
type IngestServer struct {
	handler *IngestHandler
	auth    *Authenticator
	logger  *zap.Logger

	listener net.Listener
	running  bool
	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
}

// IngestOption configures an IngestServer.
type IngestOption func(*IngestServer)

// WithAuthenticator sets the handshake authenticator.
func WithAuthenticator(a *Authenticator) IngestOption {
	return func(s *IngestServer) {
		if a != nil {
			s.auth = a
		}
	}
}

// WithIngestLogger sets the server logger.
func WithIngestLogger(l *zap.Logger) IngestOption {
	return func(s *IngestServer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewIngestServer creates a server that hands batches to handler.
// Auth is disabled unless WithAuthenticator is given.
func NewIngestServer(handler *IngestHandler, opts ...IngestOption) *IngestServer {
	s := &IngestServer{
		handler: handler,
		auth:    NewAuthenticator(AuthConfig{}),
		logger:  zap.NewNop(),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartAsync binds address and accepts connections in the background.
func (s *IngestServer) StartAsync(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(lis)

	s.logger.Info("Ingest server listening",
		zap.String("address", lis.Addr().String()),
		zap.Bool("auth", s.auth.IsEnabled()),
	)
	return nil
}

// Addr returns the bound address, or nil when not running.
func (s *IngestServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for the accept loop to exit.
// Open connections finish their current frame and are then closed.
func (s *IngestServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	_ = s.listener.Close()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *IngestServer) acceptLoop(lis net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Warn("Accept failed", zap.Error(err))
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection serves one client until it disconnects.
func (s *IngestServer) handleConnection(conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	// Unblock reads on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			_ = conn.Close()
		case <-done:
		}
	}()

	authenticated := !s.auth.IsEnabled()
	for {
		data, err := ReadMessage(conn)
		if err != nil {
			if errors.Is(err, ErrMessageTooLarge) {
				_ = WriteMessage(conn, errReply(err))
			} else if !errors.Is(err, io.EOF) {
				logger.Debug("Connection read failed", zap.Error(err))
			}
			return
		}

		if msg, ok := parseAuthMessage(data); ok {
			if !s.handshake(conn, msg, logger) {
				return
			}
			authenticated = true
			continue
		}
		if !authenticated {
			_ = WriteMessage(conn, errReply(ErrAuthRequired))
			return
		}

		n, err := s.handler.ProcessBatch(data)
		reply := okReply(n)
		if err != nil {
			logger.Warn("Batch rejected", zap.Error(err))
			reply = errReply(err)
		}
		if err := WriteMessage(conn, reply); err != nil {
			logger.Debug("Connection write failed", zap.Error(err))
			return
		}
	}
}

// handshake validates msg and writes the AuthResponse. It reports whether
// the connection may continue.
func (s *IngestServer) handshake(conn net.Conn, msg AuthMessage, logger *zap.Logger) bool {
	resp := AuthResponse{Success: true}
	if err := s.auth.ValidateToken(msg.Token); err != nil {
		resp = AuthResponse{Success: false, Error: err.Error()}
		logger.Warn("Authentication failed", zap.Error(err))
	}

	data, _ := json.Marshal(resp)
	if err := WriteMessage(conn, data); err != nil {
		return false
	}
	return resp.Success
}
