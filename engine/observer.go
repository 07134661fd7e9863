package engine

import "time"

// Observer receives scheduler activity. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// TaskStarted is called when a worker begins executing a task.
	TaskStarted()

	// TaskFinished is called after a task returns, fails or panics.
	TaskFinished(task Task, err error, d time.Duration)

	// QueueDepth reports the queue length after an insert or removal.
	QueueDepth(n int)

	// RoundFinished is called once all workers of a round have exited.
	RoundFinished(executed, failed int, d time.Duration)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) TaskStarted() {}

func (NoopObserver) TaskFinished(Task, error, time.Duration) {}

func (NoopObserver) QueueDepth(int) {}

func (NoopObserver) RoundFinished(int, int, time.Duration) {}
