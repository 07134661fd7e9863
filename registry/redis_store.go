package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces registry keys.
const DefaultRedisPrefix = "blockless"

// RedisStore stores each task as a JSON field of a single hash, keyed by ID.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore creates a RedisStore. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		rdb: rdb,
		key: fmt.Sprintf("%s:tasks", prefix),
	}
}

func (s *RedisStore) Create(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	created, err := s.rdb.HSetNX(ctx, s.key, field(task.ID), data).Result()
	if err != nil {
		return fmt.Errorf("redis create task %d: %w", task.ID, err)
	}
	if !created {
		return ErrTaskExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uint32) (Task, error) {
	data, err := s.rdb.HGet(ctx, s.key, field(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("redis get task %d: %w", id, err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("decode task %d: %w", id, err)
	}
	return task, nil
}

// Update overwrites an existing record. The existence check and the write
// are not atomic; the Manager serializes updates to the same store.
func (s *RedisStore) Update(ctx context.Context, task Task) error {
	exists, err := s.rdb.HExists(ctx, s.key, field(task.ID)).Result()
	if err != nil {
		return fmt.Errorf("redis update task %d: %w", task.ID, err)
	}
	if !exists {
		return ErrTaskNotFound
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.key, field(task.ID), data).Err(); err != nil {
		return fmt.Errorf("redis update task %d: %w", task.ID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Task, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list tasks: %w", err)
	}

	out := make([]Task, 0, len(all))
	for k, v := range all {
		var task Task
		if err := json.Unmarshal([]byte(v), &task); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", k, err)
		}
		out = append(out, task)
	}

	sortByID(out)
	return out, nil
}

func field(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
