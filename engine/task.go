package engine

import (
	"fmt"
	"time"
)

// Task is a unit of work: an opaque payload and its priority.
// Higher priority values are more urgent. Tasks are immutable once
// enqueued and carry no identity; equal priorities have no defined order.
type Task struct {
	Priority uint8  `json:"priority"`
	Payload  string `json:"payload"`
}

func (t Task) String() string {
	return fmt.Sprintf("%q (priority %d)", t.Payload, t.Priority)
}

// Result is the outcome of executing one task within a dispatch round.
type Result struct {
	Task     Task
	WorkerID int
	// Seq is the position of the task in its worker's execution order.
	Seq      int
	Err      error
	Duration time.Duration
}

// Success reports whether the task executed without error.
func (r Result) Success() bool { return r.Err == nil }

// RoundReport summarizes a completed dispatch round.
type RoundReport struct {
	ID        string
	Workers   int
	StartedAt time.Time
	Duration  time.Duration
	Results   []Result
}

// Executed returns the number of tasks taken from the queue in the round.
func (r RoundReport) Executed() int { return len(r.Results) }

// Failed returns the number of tasks whose execution returned an error.
func (r RoundReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// ByWorker returns each worker's results in execution order.
func (r RoundReport) ByWorker() map[int][]Result {
	out := make(map[int][]Result)
	for _, res := range r.Results {
		out[res.WorkerID] = append(out[res.WorkerID], res)
	}
	return out
}
