package engine

import (
	"container/heap"
	"sort"
	"sync"
)

// taskHeap implements heap.Interface as a max-heap on Priority.
type taskHeap []Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].Priority > h[j].Priority }

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(Task))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = Task{}
	*h = old[0 : n-1]
	return task
}

// QueueStats contains lifetime counters of a TaskQueue.
type QueueStats struct {
	Size     int    `json:"size"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
}

// TaskQueue is an ordered multiset of tasks, highest priority first.
//
// Every operation holds the queue lock for its whole duration, so
// Enqueue and DequeueHighest are linearizable and no caller observes a
// partially ordered queue. The lock is never held while a task runs.
//
// The queue is a binary heap: O(log n) insert and removal of the highest
// entry. Ties between equal priorities are resolved by heap position and
// are not FIFO.
type TaskQueue struct {
	mu       sync.Mutex
	tasks    taskHeap
	enqueued uint64
	dequeued uint64
}

// NewTaskQueue creates an empty TaskQueue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{tasks: make(taskHeap, 0)}
	heap.Init(&q.tasks)
	return q
}

// Enqueue inserts a task. It always succeeds.
func (q *TaskQueue) Enqueue(priority uint8, payload string) {
	q.Push(Task{Priority: priority, Payload: payload})
}

// Push inserts task. It always succeeds.
func (q *TaskQueue) Push(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.tasks, task)
	q.enqueued++
}

// DequeueHighest removes and returns the highest-priority task.
// The boolean is false when the queue is empty.
func (q *TaskQueue) DequeueHighest() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	task := heap.Pop(&q.tasks).(Task)
	q.dequeued++
	return task, true
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot returns a copy of the queued tasks in dequeue order
// (descending priority) without removing them.
func (q *TaskQueue) Snapshot() []Task {
	q.mu.Lock()
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	q.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Stats returns the queue size and lifetime counters.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Size:     len(q.tasks),
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
	}
}
