package store

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// The redis store implements the TaskStore interface using Redis as the backend.
// The keys namespace is organized as follows:
// - `/<prefix>/taskstore/<list>/tasks/<taskID>` for storing a task
// - `/<prefix>/taskstore/<list>/index` sorted set of task IDs scored by creation time

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a TaskStore backed by Redis, with keys under the prefix.
func NewRedisStore(client *redis.Client, prefix string) TaskStore {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (m *redisStore) getRedisTaskKey(list, id string) string {
	return path.Join(m.prefix, "taskstore", list, "tasks", id)
}

func (m *redisStore) getRedisIndexKey(list string) string {
	return path.Join(m.prefix, "taskstore", list, "index")
}

func (m *redisStore) Add(ctx context.Context, list, title, notes string) (*Task, error) {
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

	data, err := json.Marshal(task)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal task")
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.getRedisTaskKey(list, task.ID), data, 0)
	pipe.ZAdd(ctx, m.getRedisIndexKey(list), redis.Z{
		Score:  float64(now.UnixNano()),
		Member: task.ID,
	})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to store task in Redis")
	}
	return task, nil
}

func (m *redisStore) Get(ctx context.Context, list, id string) (*Task, error) {
	if list == "" {
		return nil, ErrInvalidList
	}

	data, err := m.client.Get(ctx, m.getRedisTaskKey(list, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get task from Redis")
	}

	task := &Task{}
	if err = json.Unmarshal([]byte(data), task); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal task")
	}
	return task, nil
}

func (m *redisStore) Tasks(ctx context.Context, list string, includeDone bool) ([]*Task, error) {
	if list == "" {
		return nil, ErrInvalidList
	}

	ids, err := m.client.ZRange(ctx, m.getRedisIndexKey(list), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks from Redis")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = m.getRedisTaskKey(list, id)
	}
	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tasks from Redis")
	}

	var tasks []*Task
	for i, val := range values {
		data, ok := val.(string)
		if !ok {
			// the index may refer to a task removed concurrently
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "missing_task", "list", list, "id", ids[i])
			continue
		}
		task := &Task{}
		if err := json.Unmarshal([]byte(data), task); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal task", "id", ids[i], "err", err.Error())
			continue
		}
		if task.Done && !includeDone {
			continue
		}
		tasks = append(tasks, task)
	}
	sortTasks(tasks)
	return tasks, nil
}

func (m *redisStore) Complete(ctx context.Context, list, id string) (*Task, error) {
	task, err := m.Get(ctx, list, id)
	if err != nil {
		return nil, err
	}
	if task.Done {
		return task, nil
	}

	now := time.Now().UTC()
	task.Done = true
	task.CompletedAt = now
	task.UpdatedAt = now

	data, err := json.Marshal(task)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal task")
	}
	// SetXX does not resurrect a task removed in between
	ok, err := m.client.SetXX(ctx, m.getRedisTaskKey(list, id), data, redis.KeepTTL).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to store task in Redis")
	}
	if !ok {
		return nil, ErrNotFound
	}
	return task, nil
}

func (m *redisStore) Remove(ctx context.Context, list, id string) error {
	if list == "" {
		return ErrInvalidList
	}

	pipe := m.client.Pipeline()
	del := pipe.Del(ctx, m.getRedisTaskKey(list, id))
	pipe.ZRem(ctx, m.getRedisIndexKey(list), id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to remove task from Redis")
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *redisStore) Lists(ctx context.Context) ([]string, error) {
	root := path.Join(m.prefix, "taskstore")
	// Use SCAN instead of KEYS for better performance
	iter := m.client.Scan(ctx, 0, root+"/*/index", 0).Iterator()
	lists := make(map[string]struct{})

	for iter.Next(ctx) {
		key := iter.Val()
		parts := strings.Split(strings.TrimPrefix(key, root+"/"), "/")
		if len(parts) > 0 {
			lists[parts[0]] = struct{}{}
		}
	}

	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan task lists from Redis")
	}

	result := make([]string, 0, len(lists))
	for list := range lists {
		result = append(result, list)
	}
	sort.Strings(result)
	return result, nil
}

func (m *redisStore) Cleanup(ctx context.Context, list string, olderThan time.Duration) (uint32, error) {
	tasks, err := m.Tasks(ctx, list, true)
	if err != nil {
		return 0, err
	}

	deleted := uint32(0)
	cutoff := time.Now().Add(-olderThan)
	for _, task := range tasks {
		if !task.Done || !task.UpdatedAt.Before(cutoff) {
			continue
		}
		err = m.Remove(ctx, list, task.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
