// Package tasks provides a to-do list provider backed by a store.TaskStore.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/mcp/server"
	"github.com/effective-security/toolmesh/store"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "providers/tasks")

// DefaultList is used when the call does not name a list.
const DefaultList = "default"

type AddTaskRequest struct {
	Title string `json:"title" jsonschema:"description=Short title of the task" validate:"required,max=200"`
	Notes string `json:"notes,omitempty" jsonschema:"description=Optional details"`
	List  string `json:"list,omitempty" jsonschema:"description=Name of the task list; defaults to default"`
}

type ListTasksRequest struct {
	List        string `json:"list,omitempty" jsonschema:"description=Name of the task list; defaults to default"`
	IncludeDone bool   `json:"include_done,omitempty" jsonschema:"description=Include completed tasks"`
	Format      string `json:"format,omitempty" jsonschema:"enum=text,enum=yaml,description=Output format" validate:"omitempty,oneof=text yaml"`
}

type TaskRequest struct {
	ID   string `json:"id" jsonschema:"description=Task ID returned by add_task or list_tasks" validate:"required"`
	List string `json:"list,omitempty" jsonschema:"description=Name of the task list; defaults to default"`
}

type CleanupRequest struct {
	List      string `json:"list,omitempty" jsonschema:"description=Name of the task list; defaults to default"`
	OlderThan string `json:"older_than,omitempty" jsonschema:"description=Only remove tasks completed before this duration ago, like 24h; all completed tasks if empty"`
}

type ListsRequest struct{}

type provider struct {
	st store.TaskStore
}

// New returns the tasks provider server.
func New(st store.TaskStore, opts ...server.Option) (*server.Server, error) {
	if st == nil {
		return nil, errors.New("task store is required")
	}
	p := &provider{st: st}

	defs := []server.ToolDefinition{
		server.MustAddTool("add_task", "Add a task to a list and return its ID.", p.addTask),
		server.MustAddTool("list_tasks", "List the open tasks of a list.", p.listTasks),
		server.MustAddTool("complete_task", "Mark a task as done.", p.completeTask),
		server.MustAddTool("remove_task", "Remove a task from a list.", p.removeTask),
		server.MustAddTool("get_task", "Show a task with its notes and status.", p.getTask),
		server.MustAddTool("list_task_lists", "List the names of the task lists.", p.listLists),
		server.MustAddTool("cleanup_tasks", "Remove the completed tasks of a list.", p.cleanup),
	}
	return server.NewFromDefinitions(protocol.Implementation{Name: "tasks", Version: "1.0.0"}, defs, opts...)
}

func (p *provider) addTask(ctx context.Context, req *AddTaskRequest) (*protocol.CallToolResult, error) {
	task, err := p.st.Add(ctx, values.StringsCoalesce(req.List, DefaultList), req.Title, req.Notes)
	if err != nil {
		return nil, err
	}
	logger.ContextKV(ctx, xlog.DEBUG, "tool", "add_task", "list", task.List, "id", task.ID)
	return protocol.TextResult(fmt.Sprintf("added task %s: %s", task.ID, task.Title)), nil
}

func (p *provider) listTasks(ctx context.Context, req *ListTasksRequest) (*protocol.CallToolResult, error) {
	list := values.StringsCoalesce(req.List, DefaultList)
	tasks, err := p.st.Tasks(ctx, list, req.IncludeDone)
	if err != nil {
		return nil, err
	}

	if req.Format == "yaml" {
		b, err := store.Export(tasks)
		if err != nil {
			return nil, err
		}
		return protocol.TextResult(string(b)), nil
	}

	if len(tasks) == 0 {
		return protocol.TextResult(fmt.Sprintf("no tasks in %s", list)), nil
	}
	var buf strings.Builder
	for _, task := range tasks {
		mark := " "
		if task.Done {
			mark = "x"
		}
		fmt.Fprintf(&buf, "[%s] %s %s\n", mark, task.ID, task.Title)
		if task.Notes != "" {
			fmt.Fprintf(&buf, "    %s\n", task.Notes)
		}
	}
	return protocol.TextResult(buf.String()), nil
}

func (p *provider) completeTask(ctx context.Context, req *TaskRequest) (*protocol.CallToolResult, error) {
	task, err := p.st.Complete(ctx, values.StringsCoalesce(req.List, DefaultList), req.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.ErrorResult("task not found: %s", req.ID), nil
		}
		return nil, err
	}
	return protocol.TextResult(fmt.Sprintf("completed task %s: %s", task.ID, task.Title)), nil
}

func (p *provider) removeTask(ctx context.Context, req *TaskRequest) (*protocol.CallToolResult, error) {
	err := p.st.Remove(ctx, values.StringsCoalesce(req.List, DefaultList), req.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.ErrorResult("task not found: %s", req.ID), nil
		}
		return nil, err
	}
	return protocol.TextResult("removed task " + req.ID), nil
}

func (p *provider) getTask(ctx context.Context, req *TaskRequest) (*protocol.CallToolResult, error) {
	task, err := p.st.Get(ctx, values.StringsCoalesce(req.List, DefaultList), req.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.ErrorResult("task not found: %s", req.ID), nil
		}
		return nil, err
	}
	b, err := store.Export([]*store.Task{task})
	if err != nil {
		return nil, err
	}
	return protocol.TextResult(string(b)), nil
}

func (p *provider) listLists(ctx context.Context, _ *ListsRequest) (*protocol.CallToolResult, error) {
	lists, err := p.st.Lists(ctx)
	if err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return protocol.TextResult("no task lists"), nil
	}
	return protocol.TextResult(strings.Join(lists, "\n")), nil
}

func (p *provider) cleanup(ctx context.Context, req *CleanupRequest) (*protocol.CallToolResult, error) {
	var olderThan time.Duration
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			return protocol.ErrorResult("invalid older_than: %s", req.OlderThan), nil
		}
		olderThan = d
	}

	list := values.StringsCoalesce(req.List, DefaultList)
	deleted, err := p.st.Cleanup(ctx, list, olderThan)
	if err != nil {
		return nil, err
	}
	logger.ContextKV(ctx, xlog.DEBUG, "tool", "cleanup_tasks", "list", list, "deleted", deleted)
	return protocol.TextResult(fmt.Sprintf("removed %d completed tasks from %s", deleted, list)), nil
}
