// Package engine provides priority-ordered task execution.
// This package implements:
//   - TaskQueue: a mutex-guarded max-priority queue of (priority, payload) tasks
//   - Scheduler: a fixed worker pool that drains the queue in dispatch rounds
//   - Executors, including routing of "wasm:" payloads into a sandboxed module
package engine
