package store

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "store")

var (
	// ErrNotFound is returned when the task does not exist in the list.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidList is returned when the list name is empty.
	ErrInvalidList = errors.New("invalid task list")
	// ErrInvalidTitle is returned when the task title is empty.
	ErrInvalidTitle = errors.New("task title is required")
)

// Task is a unit of work tracked by the tasks provider.
type Task struct {
	ID          string    `json:"id" yaml:"id"`
	List        string    `json:"list" yaml:"list"`
	Title       string    `json:"title" yaml:"title"`
	Notes       string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	Done        bool      `json:"done" yaml:"done"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitzero" yaml:"completed_at,omitempty"`
}

// TaskStore persists tasks grouped into named lists.
type TaskStore interface {
	// Add creates a new task in the list.
	Add(ctx context.Context, list, title, notes string) (*Task, error)
	// Get returns the task, or ErrNotFound.
	Get(ctx context.Context, list, id string) (*Task, error)
	// Tasks returns the tasks of the list ordered by creation time.
	Tasks(ctx context.Context, list string, includeDone bool) ([]*Task, error)
	// Complete marks the task as done. Completing a done task is a no-op.
	Complete(ctx context.Context, list, id string) (*Task, error)
	// Remove deletes the task, or returns ErrNotFound.
	Remove(ctx context.Context, list, id string) error
	// Lists returns the names of the lists with at least one task.
	Lists(ctx context.Context) ([]string, error)
	// Cleanup deletes completed tasks not updated within olderThan,
	// and returns the number of deleted tasks.
	Cleanup(ctx context.Context, list string, olderThan time.Duration) (uint32, error)
}

// Export returns the YAML representation of the tasks.
func Export(tasks []*Task) ([]byte, error) {
	if tasks == nil {
		tasks = []*Task{}
	}
	b, err := yaml.Marshal(tasks)
	if err != nil {
		return nil, errors.Wrap(err, "failed to export tasks")
	}
	return b, nil
}

func sortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func validate(list, title string) error {
	if list == "" {
		return ErrInvalidList
	}
	if title == "" {
		return ErrInvalidTitle
	}
	return nil
}
