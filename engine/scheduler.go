package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTaskPanic wraps a panic recovered from task execution.
var ErrTaskPanic = errors.New("panic in task execution")

// SchedulerStats contains scheduler statistics.
type SchedulerStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	Rounds      int64   `json:"rounds"`
	SuccessRate float64 `json:"success_rate"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithName sets the scheduler name reported in stats and logs.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// WithExecutor sets the executor used for every task.
// The default is LogExecutor.
func WithExecutor(e Executor) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.executor = e
		}
	}
}

// WithObserver sets the observer notified of task and round activity.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueue makes the scheduler drain an existing queue.
func WithQueue(q *TaskQueue) Option {
	return func(s *Scheduler) {
		if q != nil {
			s.queue = q
		}
	}
}

// Scheduler drains a TaskQueue with a fixed number of workers.
//
// Each dispatch round starts exactly Workers goroutines. A worker pops the
// highest-priority task, executes it, and repeats until it finds the queue
// empty. Workers race for the queue lock, so load is not balanced: a worker
// that loses the race for the last tasks exits early while others keep
// running.
//
// Rounds have no deadline. A task that blocks forever stalls only its own
// worker, but the round does not complete until that worker returns.
type Scheduler struct {
	name     string
	workers  int
	queue    *TaskQueue
	executor Executor
	observer Observer
	logger   *zap.Logger

	// roundMu serializes dispatch rounds.
	roundMu sync.Mutex

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64
	rounds    int64
}

// NewScheduler creates a scheduler with the specified number of workers.
// A non-positive count is treated as 1.
func NewScheduler(workers int, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = 1
	}

	s := &Scheduler{
		name:     "scheduler",
		workers:  workers,
		queue:    NewTaskQueue(),
		observer: NoopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.executor == nil {
		s.executor = LogExecutor{Logger: s.logger}
	}
	return s
}

// Workers returns the fixed worker count.
func (s *Scheduler) Workers() int { return s.workers }

// Queue returns the queue drained by the scheduler.
func (s *Scheduler) Queue() *TaskQueue { return s.queue }

// AddTask enqueues a task with the given priority and payload.
func (s *Scheduler) AddTask(priority uint8, payload string) {
	s.queue.Enqueue(priority, payload)
	s.observer.QueueDepth(s.queue.Len())
}

// DispatchRound runs workers until the queue is empty and returns once all
// of them have exited. Task failures and panics are recorded in the report
// and never stop a worker. Calling DispatchRound on an empty queue returns
// immediately without starting workers.
//
// ctx is handed to each executor; the round itself is not cancelable.
// Concurrent calls run one after another.
func (s *Scheduler) DispatchRound(ctx context.Context) RoundReport {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	report := RoundReport{
		ID:        uuid.NewString(),
		Workers:   s.workers,
		StartedAt: time.Now(),
	}

	if s.queue.Len() == 0 {
		return report
	}

	logger := s.logger.With(zap.String("round", report.ID))
	logger.Debug("Dispatch round started", zap.Int("workers", s.workers), zap.Int("pending", s.queue.Len()))

	perWorker := make([][]Result, s.workers)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			perWorker[id] = s.worker(ctx, logger, id)
		}(i)
	}
	wg.Wait()

	for _, results := range perWorker {
		report.Results = append(report.Results, results...)
	}
	report.Duration = time.Since(report.StartedAt)
	atomic.AddInt64(&s.rounds, 1)

	executed, failed := report.Executed(), report.Failed()
	s.observer.RoundFinished(executed, failed, report.Duration)
	logger.Info("All tasks have been executed based on their priority",
		zap.Int("executed", executed),
		zap.Int("failed", failed),
		zap.Duration("duration", report.Duration),
	)
	return report
}

// worker drains the queue and returns its results in execution order.
func (s *Scheduler) worker(ctx context.Context, logger *zap.Logger, id int) []Result {
	var results []Result
	for {
		task, ok := s.queue.DequeueHighest()
		if !ok {
			return results
		}
		s.observer.QueueDepth(s.queue.Len())

		res := s.execute(ctx, logger, id, task)
		res.Seq = len(results)
		results = append(results, res)
	}
}

// execute runs a single task, converting panics into task errors.
func (s *Scheduler) execute(ctx context.Context, logger *zap.Logger, workerID int, task Task) (result Result) {
	atomic.AddInt64(&s.active, 1)
	defer atomic.AddInt64(&s.active, -1)
	s.observer.TaskStarted()

	start := time.Now()
	result = Result{Task: task, WorkerID: workerID}

	// Panic recovery keeps one task from taking down the worker
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("%w: %s", ErrTaskPanic, panicToString(r))
		}
		result.Duration = time.Since(start)

		if result.Err != nil {
			atomic.AddInt64(&s.failed, 1)
			logger.Error("Task failed",
				zap.Int("worker", workerID),
				zap.Uint8("priority", task.Priority),
				zap.String("payload", task.Payload),
				zap.Error(result.Err),
			)
		} else {
			atomic.AddInt64(&s.completed, 1)
			logger.Debug("Task finished",
				zap.Int("worker", workerID),
				zap.String("payload", task.Payload),
				zap.Duration("duration", result.Duration),
			)
		}
		s.observer.TaskFinished(task, result.Err, result.Duration)
	}()

	result.Err = s.executor.Execute(ctx, task)
	return result
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	completed := atomic.LoadInt64(&s.completed)
	failed := atomic.LoadInt64(&s.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return SchedulerStats{
		Name:        s.name,
		Workers:     s.workers,
		Active:      atomic.LoadInt64(&s.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     s.queue.Len(),
		Rounds:      atomic.LoadInt64(&s.rounds),
		SuccessRate: successRate,
	}
}
