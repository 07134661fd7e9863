package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Common errors for registry operations
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
)

// Task is a registry record.
type Task struct {
	ID          uint32 `json:"id"`
	Description string `json:"description"`
	Priority    uint8  `json:"priority"`
	Completed   bool   `json:"completed"`
}

// Store persists task records by ID.
type Store interface {
	// Create inserts a new record. It fails with ErrTaskExists if the ID is taken.
	Create(ctx context.Context, task Task) error

	// Get returns a record or ErrTaskNotFound.
	Get(ctx context.Context, id uint32) (Task, error)

	// Update replaces an existing record or returns ErrTaskNotFound.
	Update(ctx context.Context, task Task) error

	// List returns all records ordered by ID.
	List(ctx context.Context) ([]Task, error)
}

// MemoryStore is an in-process Store guarded by a single lock.
type MemoryStore struct {
	tasks map[uint32]Task
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uint32]Task)}
}

func (s *MemoryStore) Create(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrTaskExists
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint32) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *MemoryStore) Update(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; !exists {
		return ErrTaskNotFound
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Task, error) {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	s.mu.RUnlock()

	sortByID(out)
	return out, nil
}

func sortByID(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
