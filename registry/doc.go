// Package registry keeps the task records behind the engine's queue.
// This package implements:
//   - Store: keyed task storage (in-memory or Redis)
//   - Manager: add / view / update / complete operations that feed
//     (priority, payload) pairs to the scheduler and emit completion
//     notifications
package registry
