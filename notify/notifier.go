package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	"go.uber.org/zap"
)

var (
	ErrQueueFull      = errors.New("notify: queue full")
	ErrNotifierClosed = errors.New("notify: closed")
)

// Defaults for Notifier.
const (
	DefaultQueueSize      = 256
	DefaultAttempts       = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

// Option configures a Notifier.
type Option func(*Notifier)

// WithQueueSize sets how many messages may wait for delivery.
func WithQueueSize(n int) Option {
	return func(nt *Notifier) {
		if n > 0 {
			nt.queueSize = n
		}
	}
}

// WithRetry sets the delivery attempts and backoff bounds.
func WithRetry(attempts int, initial, maxDelay time.Duration) Option {
	return func(nt *Notifier) {
		if attempts > 0 {
			nt.attempts = attempts
		}
		if initial > 0 {
			nt.initial = initial
		}
		if maxDelay > 0 {
			nt.max = maxDelay
		}
	}
}

// WithLogger sets the notifier logger.
func WithLogger(l *zap.Logger) Option {
	return func(nt *Notifier) {
		if l != nil {
			nt.logger = l
		}
	}
}

// Stats counts messages by outcome.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Notifier delivers messages to a Sink from a single background goroutine.
// Notify never blocks; messages are delivered in submission order.
type Notifier struct {
	sink      Sink
	logger    *zap.Logger
	queueSize int
	attempts  int
	initial   time.Duration
	max       time.Duration

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New starts a Notifier delivering to sink.
func New(sink Sink, opts ...Option) *Notifier {
	n := &Notifier{
		sink:      sink,
		logger:    zap.NewNop(),
		queueSize: DefaultQueueSize,
		attempts:  DefaultAttempts,
		initial:   DefaultInitialBackoff,
		max:       DefaultMaxBackoff,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.queue = make(chan string, n.queueSize)
	n.ctx, n.cancel = context.WithCancel(context.Background())

	go n.run()
	return n
}

// Notify queues message for delivery.
func (n *Notifier) Notify(message string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}

	select {
	case n.queue <- message:
		return nil
	default:
		n.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to be
// delivered. If ctx expires first, in-flight delivery is abandoned and
// ctx.Err() is returned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-n.done
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		if n.ctx.Err() != nil {
			n.failed.Add(1)
			continue
		}
		if err := n.deliver(msg); err != nil {
			n.failed.Add(1)
			n.logger.Error("Notification failed", zap.String("message", msg), zap.Error(err))
			continue
		}
		n.delivered.Add(1)
	}
}

func (n *Notifier) deliver(msg string) error {
	bo := boff.New(n.initial, n.max, time.Now().UnixNano())

	var err error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if err = n.sink.Send(n.ctx, msg); err == nil {
			return nil
		}
		if attempt == n.attempts {
			break
		}

		delay := bo.Next()
		n.logger.Warn("Notification attempt failed; backing off",
			zap.Int("attempt", attempt),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-n.ctx.Done():
			timer.Stop()
			return n.ctx.Err()
		}
	}
	return err
}
