package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/VanDung-dev/Blockless-Engine/engine"
	"go.uber.org/zap"
)

// CompletionEndpoint is the notification endpoint for completed tasks.
const CompletionEndpoint = "task/completed"

// Notifier hands a message to an external collaborator without waiting
// for delivery. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(message string) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns task records and feeds them to a scheduler. The scheduler
// only ever sees (priority, decimal ID) pairs.
type Manager struct {
	store     Store
	scheduler *engine.Scheduler
	notifier  Notifier
	logger    *zap.Logger

	// mu serializes read-modify-write sequences on the store.
	mu sync.Mutex
}

// NewManager creates a Manager over store and scheduler.
func NewManager(store Store, scheduler *engine.Scheduler, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		scheduler: scheduler,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTask stores a new record and enqueues (priority, id) for execution.
func (m *Manager) AddTask(ctx context.Context, id uint32, description string, priority uint8) error {
	task := Task{
		ID:          id,
		Description: description,
		Priority:    priority,
	}
	if err := m.store.Create(ctx, task); err != nil {
		return fmt.Errorf("add task %d: %w", id, err)
	}

	m.scheduler.AddTask(priority, strconv.FormatUint(uint64(id), 10))
	m.logger.Info("Task added", zap.Uint32("id", id), zap.Uint8("priority", priority))
	return nil
}

// ViewTasks returns every record ordered by ID.
func (m *Manager) ViewTasks(ctx context.Context) ([]Task, error) {
	return m.store.List(ctx)
}

// GetTask returns a single record.
func (m *Manager) GetTask(ctx context.Context, id uint32) (Task, error) {
	return m.store.Get(ctx, id)
}

// UpdateTask edits the description and/or priority of a record. Nil
// arguments leave the field unchanged. A queued entry for the task keeps
// the priority it was enqueued with.
func (m *Manager) UpdateTask(ctx context.Context, id uint32, description *string, priority *uint8) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.store.Get(ctx, id)
	if err != nil {
		return Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	if description != nil {
		task.Description = *description
	}
	if priority != nil {
		task.Priority = *priority
	}
	if err := m.store.Update(ctx, task); err != nil {
		return Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	return task, nil
}

// CompleteTask marks a record completed and emits a completion
// notification. Notification failures are logged, not returned.
func (m *Manager) CompleteTask(ctx context.Context, id uint32) (Task, error) {
	m.mu.Lock()
	task, err := m.store.Get(ctx, id)
	if err == nil {
		task.Completed = true
		err = m.store.Update(ctx, task)
	}
	m.mu.Unlock()
	if err != nil {
		return Task{}, fmt.Errorf("complete task %d: %w", id, err)
	}

	msg := CompletionMessage(id)
	m.logger.Info(msg)
	if m.notifier != nil {
		if err := m.notifier.Notify(msg); err != nil {
			m.logger.Warn("Failed to send notification", zap.Uint32("id", id), zap.Error(err))
		}
	}
	return task, nil
}

// ExecuteTasks runs one dispatch round over the queued tasks.
func (m *Manager) ExecuteTasks(ctx context.Context) engine.RoundReport {
	return m.scheduler.DispatchRound(ctx)
}

// CompletionMessage is the notification body for a completed task.
func CompletionMessage(id uint32) string {
	return fmt.Sprintf("Task ID: %d is completed.", id)
}
