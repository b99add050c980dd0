package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemory struct {
	mu      sync.RWMutex
	storage map[string][]*Task
}

// NewMemoryStore returns a TaskStore that keeps tasks in the process memory.
func NewMemoryStore() TaskStore {
	return &inMemory{}
}

func (m *inMemory) Add(_ context.Context, list, title, notes string) (*Task, error) {
	if err := validate(list, title); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		List:      list,
		Title:     title,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string][]*Task)
	}
	m.storage[list] = append(m.storage[list], task)

	cp := *task
	return &cp, nil
}

func (m *inMemory) find(list, id string) (*Task, int) {
	for idx, task := range m.storage[list] {
		if task.ID == id {
			return task, idx
		}
	}
	return nil, -1
}

func (m *inMemory) Get(_ context.Context, list, id string) (*Task, error) {
	if list == "" {
		return nil, ErrInvalidList
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, _ := m.find(list, id)
	if task == nil {
		return nil, ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (m *inMemory) Tasks(_ context.Context, list string, includeDone bool) ([]*Task, error) {
	if list == "" {
		return nil, ErrInvalidList
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tasks []*Task
	for _, task := range m.storage[list] {
		if task.Done && !includeDone {
			continue
		}
		cp := *task
		tasks = append(tasks, &cp)
	}
	sortTasks(tasks)
	return tasks, nil
}

func (m *inMemory) Complete(_ context.Context, list, id string) (*Task, error) {
	if list == "" {
		return nil, ErrInvalidList
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	task, _ := m.find(list, id)
	if task == nil {
		return nil, ErrNotFound
	}
	if !task.Done {
		now := time.Now().UTC()
		task.Done = true
		task.CompletedAt = now
		task.UpdatedAt = now
	}
	cp := *task
	return &cp, nil
}

func (m *inMemory) Remove(_ context.Context, list, id string) error {
	if list == "" {
		return ErrInvalidList
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, idx := m.find(list, id)
	if idx < 0 {
		return ErrNotFound
	}
	m.remove(list, idx)
	return nil
}

func (m *inMemory) remove(list string, idx int) {
	tasks := m.storage[list]
	tasks = append(tasks[:idx], tasks[idx+1:]...)
	if len(tasks) == 0 {
		delete(m.storage, list)
		return
	}
	m.storage[list] = tasks
}

func (m *inMemory) Lists(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lists := make([]string, 0, len(m.storage))
	for list := range m.storage {
		lists = append(lists, list)
	}
	sort.Strings(lists)
	return lists, nil
}

func (m *inMemory) Cleanup(_ context.Context, list string, olderThan time.Duration) (uint32, error) {
	if list == "" {
		return 0, ErrInvalidList
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := uint32(0)
	for idx := len(m.storage[list]) - 1; idx >= 0; idx-- {
		task := m.storage[list][idx]
		if task.Done && task.UpdatedAt.Before(cutoff) {
			m.remove(list, idx)
			deleted++
		}
	}
	return deleted, nil
}
