package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/storage"
)

// TaskRepository implements storage.TaskRepository for BadgerDB.
type TaskRepository struct {
	backend *Backend
}

var _ storage.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(backend *Backend) *TaskRepository {
	return &TaskRepository{backend: backend}
}

// SaveTask creates or replaces a task and points its idempotency key at it.
func (r *TaskRepository) SaveTask(ctx context.Context, task *core.Task) error {
	return r.backend.update(func(tx *badger.Txn) error {
		if err := tx.Set(makeTaskKey(task.ID), storage.MarshalTask(task)); err != nil {
			return err
		}
		if task.IdempotencyKey == "" {
			return nil
		}
		return tx.Set(makeTaskIdempotencyKey(task.TenantID, task.IdempotencyKey), []byte(task.ID))
	})
}

// GetTask retrieves a task by ID.
func (r *TaskRepository) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task *core.Task
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		task, err = getValue(tx, makeTaskKey(id), storage.UnmarshalTask)
		if err != nil {
			return err
		}
		if task == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return task, err
}

// TaskByKey retrieves the task most recently saved under a tenant's idempotency key.
func (r *TaskRepository) TaskByKey(ctx context.Context, tenant core.TenantID, key string) (*core.Task, error) {
	var task *core.Task
	err := r.backend.view(func(tx *badger.Txn) error {
		item, err := tx.Get(makeTaskIdempotencyKey(tenant, key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		task, err = getValue(tx, makeTaskKey(string(id)), storage.UnmarshalTask)
		if err != nil {
			return err
		}
		if task == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return task, err
}

// ListTasks returns every stored task.
func (r *TaskRepository) ListTasks(ctx context.Context) ([]*core.Task, error) {
	var tasks []*core.Task
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(taskPrefix), func(_, val []byte) error {
			task, err := storage.UnmarshalTask(val)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	return tasks, err
}
