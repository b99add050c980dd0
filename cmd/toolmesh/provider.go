package main

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/server"
	"github.com/effective-security/toolmesh/mcp/transport"
	"github.com/effective-security/toolmesh/providers/files"
	"github.com/effective-security/toolmesh/providers/shell"
	"github.com/effective-security/toolmesh/providers/tasks"
	"github.com/effective-security/toolmesh/providers/websearch"
	"github.com/effective-security/toolmesh/store"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

func newProviderCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Serve a built-in tool provider over stdin and stdout",
	}

	var (
		root     string
		readOnly bool
		allowed  []string
		dir      string
		backend  string
	)

	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "read_file, list_files and write_file in a root directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Files
			if root != "" {
				cfg.Root = root
			}
			if readOnly {
				cfg.ReadOnly = true
			}
			srv, err := files.New(cfg)
			if err != nil {
				return err
			}
			return serve(cmd, srv)
		},
	}
	filesCmd.Flags().StringVar(&root, "root", "", "root directory")
	filesCmd.Flags().BoolVar(&readOnly, "read-only", false, "disable write_file")

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "run_command with a timeout and an optional allow-list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Shell
			if len(allowed) > 0 {
				cfg.Allowed = allowed
			}
			if dir != "" {
				cfg.Dir = dir
			}
			srv, err := shell.New(cfg)
			if err != nil {
				return err
			}
			return serve(cmd, srv)
		},
	}
	shellCmd.Flags().StringSliceVar(&allowed, "allow", nil, "allowed commands, any command if empty")
	shellCmd.Flags().StringVar(&dir, "dir", "", "working directory")

	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "add_task, list_tasks, complete_task and remove_task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Store
			if backend != "" {
				cfg.Backend = backend
			}
			st, closer, err := store.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closer()

			srv, err := tasks.New(st)
			if err != nil {
				return err
			}
			return serve(cmd, srv)
		},
	}
	tasksCmd.Flags().StringVar(&backend, "store", "", "task store backend: memory or redis")

	webCmd := &cobra.Command{
		Use:   "websearch",
		Short: "web_search with the Tavily API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := websearch.New(a.cfg.WebSearch)
			if err != nil {
				return err
			}
			return serve(cmd, srv)
		},
	}

	cmd.AddCommand(filesCmd, shellCmd, tasksCmd, webCmd)
	return cmd
}

func serve(cmd *cobra.Command, srv *server.Server) error {
	ctx := cmd.Context()
	logger.ContextKV(ctx, xlog.INFO, "status", "serving", "provider", cmd.Name())

	err := srv.Serve(ctx, transport.NewConn(cmd.InOrStdin(), cmd.OutOrStdout()))
	if err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	return nil
}
