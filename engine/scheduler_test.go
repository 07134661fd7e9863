package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder is an Executor that remembers execution order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) Execute(_ context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, task.Payload)
	return nil
}

// countingObserver counts observer callbacks.
type countingObserver struct {
	started  int64
	finished int64
	failed   int64
	rounds   int64
}

func (o *countingObserver) TaskStarted() { atomic.AddInt64(&o.started, 1) }

func (o *countingObserver) TaskFinished(_ Task, err error, _ time.Duration) {
	atomic.AddInt64(&o.finished, 1)
	if err != nil {
		atomic.AddInt64(&o.failed, 1)
	}
}

func (o *countingObserver) QueueDepth(int) {}

func (o *countingObserver) RoundFinished(int, int, time.Duration) { atomic.AddInt64(&o.rounds, 1) }

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(4, WithName("test"))

	stats := s.Stats()
	if stats.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", stats.Workers)
	}
	if stats.Name != "test" {
		t.Errorf("Expected name 'test', got %s", stats.Name)
	}

	if NewScheduler(0).Workers() != 1 {
		t.Error("Expected non-positive worker count to become 1")
	}
}

func TestDispatchRoundSingleWorkerOrder(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(1, WithExecutor(rec))

	s.AddTask(1, "low")
	s.AddTask(5, "high")

	report := s.DispatchRound(context.Background())

	if report.Executed() != 2 {
		t.Fatalf("Expected 2 executed, got %d", report.Executed())
	}
	if len(rec.order) != 2 || rec.order[0] != "high" || rec.order[1] != "low" {
		t.Errorf("Expected [high low], got %v", rec.order)
	}
}

func TestDispatchRoundEmptyQueue(t *testing.T) {
	obs := &countingObserver{}
	var calls int64
	s := NewScheduler(4, WithObserver(obs), WithExecutor(ExecutorFunc(func(context.Context, Task) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})))

	start := time.Now()
	report := s.DispatchRound(context.Background())
	if time.Since(start) > time.Second {
		t.Error("Empty round should complete immediately")
	}
	if report.Executed() != 0 || atomic.LoadInt64(&calls) != 0 {
		t.Errorf("Empty round performed work: %d results, %d calls", report.Executed(), calls)
	}
	if obs.rounds != 0 {
		t.Errorf("Empty round should not be observed, got %d", obs.rounds)
	}
}

func TestDispatchRoundIdempotent(t *testing.T) {
	var calls int64
	s := NewScheduler(3, WithExecutor(ExecutorFunc(func(context.Context, Task) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})))

	for i := 0; i < 10; i++ {
		s.AddTask(uint8(i), fmt.Sprintf("task-%d", i))
	}

	first := s.DispatchRound(context.Background())
	second := s.DispatchRound(context.Background())

	if first.Executed() != 10 {
		t.Errorf("Expected 10 executed in first round, got %d", first.Executed())
	}
	if second.Executed() != 0 {
		t.Errorf("Expected second round to be a no-op, got %d", second.Executed())
	}
	if atomic.LoadInt64(&calls) != 10 {
		t.Errorf("Expected 10 executor calls, got %d", calls)
	}
	if first.ID == second.ID {
		t.Error("Expected distinct round IDs")
	}
}

func TestDispatchRoundFailureIsolation(t *testing.T) {
	obs := &countingObserver{}
	expectedErr := errors.New("task failed")

	s := NewScheduler(2, WithObserver(obs), WithExecutor(ExecutorFunc(func(_ context.Context, task Task) error {
		switch task.Payload {
		case "fail":
			return expectedErr
		case "panic":
			panic("boom")
		}
		return nil
	})))

	for i := 0; i < 5; i++ {
		s.AddTask(uint8(i), fmt.Sprintf("ok-%d", i))
	}
	s.AddTask(9, "fail")
	s.AddTask(8, "panic")

	report := s.DispatchRound(context.Background())

	if report.Executed() != 7 {
		t.Fatalf("Expected all 7 tasks executed, got %d", report.Executed())
	}
	if report.Failed() != 2 {
		t.Errorf("Expected 2 failed, got %d", report.Failed())
	}

	var sawPanic, sawFail bool
	for _, res := range report.Results {
		if errors.Is(res.Err, ErrTaskPanic) {
			sawPanic = true
		}
		if errors.Is(res.Err, expectedErr) {
			sawFail = true
		}
	}
	if !sawPanic || !sawFail {
		t.Errorf("Expected both panic and error results, panic=%v fail=%v", sawPanic, sawFail)
	}

	stats := s.Stats()
	if stats.Completed != 5 || stats.Failed != 2 {
		t.Errorf("Expected 5 completed / 2 failed, got %d / %d", stats.Completed, stats.Failed)
	}
	if stats.Active != 0 {
		t.Errorf("Expected no active tasks after round, got %d", stats.Active)
	}
	if obs.finished != 7 || obs.failed != 2 || obs.rounds != 1 {
		t.Errorf("Unexpected observer counts: %+v", obs)
	}
}

func TestDispatchRoundConservation(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	s := NewScheduler(8, WithExecutor(ExecutorFunc(func(_ context.Context, task Task) error {
		mu.Lock()
		seen[task.Payload]++
		mu.Unlock()
		return nil
	})))

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.AddTask(uint8(i%4), fmt.Sprintf("%d-%d", p, i))
			}
		}(p)
	}
	wg.Wait()

	report := s.DispatchRound(context.Background())

	if report.Executed() != 1000 {
		t.Fatalf("Expected 1000 executed, got %d", report.Executed())
	}
	if len(seen) != 1000 {
		t.Fatalf("Expected 1000 distinct tasks, got %d", len(seen))
	}
	for payload, n := range seen {
		if n != 1 {
			t.Errorf("Task %s executed %d times", payload, n)
		}
	}
}

func TestDispatchRoundPerWorkerOrder(t *testing.T) {
	s := NewScheduler(4, WithExecutor(ExecutorFunc(func(context.Context, Task) error {
		time.Sleep(100 * time.Microsecond)
		return nil
	})))

	for i := 0; i < 200; i++ {
		s.AddTask(uint8(i%50), "t")
	}

	report := s.DispatchRound(context.Background())

	// Within one worker, tasks run in dequeue order, which is non-increasing
	// because nothing is enqueued during the round.
	for id, results := range report.ByWorker() {
		for i := 1; i < len(results); i++ {
			if results[i].Seq != i {
				t.Errorf("Worker %d: result %d has seq %d", id, i, results[i].Seq)
			}
			if results[i].Task.Priority > results[i-1].Task.Priority {
				t.Errorf("Worker %d ran priority %d after %d", id, results[i].Task.Priority, results[i-1].Task.Priority)
			}
		}
	}
}

func TestDispatchRoundUsesAllWorkers(t *testing.T) {
	const workers = 4
	var running, peak int64
	release := make(chan struct{})

	s := NewScheduler(workers, WithExecutor(ExecutorFunc(func(context.Context, Task) error {
		n := atomic.AddInt64(&running, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt64(&running, -1)
		return nil
	})))

	for i := 0; i < workers; i++ {
		s.AddTask(1, "block")
	}

	done := make(chan RoundReport)
	go func() { done <- s.DispatchRound(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&peak) < workers {
		select {
		case <-deadline:
			t.Fatalf("Expected %d concurrent workers, peak %d", workers, atomic.LoadInt64(&peak))
		case <-time.After(time.Millisecond):
		}
	}

	// The round must not finish while tasks are still blocked.
	select {
	case <-done:
		t.Fatal("Round completed before blocked tasks returned")
	default:
	}

	close(release)
	select {
	case report := <-done:
		if report.Executed() != workers {
			t.Errorf("Expected %d executed, got %d", workers, report.Executed())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Round did not complete after release")
	}
}

func TestDispatchRoundBlockedTaskDoesNotStallOthers(t *testing.T) {
	release := make(chan struct{})
	var fast int64

	s := NewScheduler(2, WithExecutor(ExecutorFunc(func(_ context.Context, task Task) error {
		if task.Payload == "slow" {
			<-release
			return nil
		}
		atomic.AddInt64(&fast, 1)
		return nil
	})))

	s.AddTask(9, "slow")
	for i := 0; i < 50; i++ {
		s.AddTask(1, "fast")
	}

	done := make(chan struct{})
	go func() {
		s.DispatchRound(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&fast) < 50 {
		select {
		case <-deadline:
			t.Fatalf("Other worker stalled: %d/50 fast tasks done", atomic.LoadInt64(&fast))
		case <-time.After(time.Millisecond):
		}
	}

	select {
	case <-done:
		t.Fatal("Round completed while a task was still blocked")
	default:
	}

	close(release)
	<-done
}

func TestSchedulerStatsSuccessRate(t *testing.T) {
	s := NewScheduler(2, WithExecutor(ExecutorFunc(func(_ context.Context, task Task) error {
		if task.Priority == 0 {
			return errors.New("fail")
		}
		return nil
	})))

	for i := 0; i < 3; i++ {
		s.AddTask(1, "ok")
	}
	s.AddTask(0, "bad")

	s.DispatchRound(context.Background())

	stats := s.Stats()
	if stats.SuccessRate != 75 {
		t.Errorf("Expected success rate 75, got %f", stats.SuccessRate)
	}
	if stats.Rounds != 1 {
		t.Errorf("Expected 1 round, got %d", stats.Rounds)
	}
	if stats.Pending != 0 {
		t.Errorf("Expected 0 pending, got %d", stats.Pending)
	}
}

func BenchmarkDispatchRound(b *testing.B) {
	s := NewScheduler(8, WithExecutor(ExecutorFunc(func(context.Context, Task) error { return nil })))

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 1000; j++ {
			s.AddTask(uint8(j%10), "task")
		}
		b.StartTimer()
		s.DispatchRound(context.Background())
	}
}

func TestSchedulerWithQueue(t *testing.T) {
	q := NewTaskQueue()
	q.Enqueue(2, "b")
	q.Enqueue(9, "a")

	rec := &recorder{}
	s := NewScheduler(1, WithQueue(q), WithExecutor(rec))
	if s.Queue() != q {
		t.Fatal("Expected scheduler to use the provided queue")
	}

	report := s.DispatchRound(context.Background())
	if report.Executed() != 2 {
		t.Fatalf("Expected 2 executed, got %d", report.Executed())
	}
	if rec.order[0] != "a" || rec.order[1] != "b" {
		t.Errorf("Expected [a b], got %v", rec.order)
	}
	if q.Len() != 0 {
		t.Errorf("Expected shared queue drained, got %d", q.Len())
	}
}
