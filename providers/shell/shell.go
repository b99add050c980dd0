// Package shell provides the `run_command` tool, executing shell commands
// with a bounded wait.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/mcp/server"
	xslices "github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "providers/shell")

const (
	// ToolName is the name of the tool
	ToolName = "run_command"
	// DefaultTimeout is used when the call does not specify a timeout.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout bounds the timeout a call may ask for.
	MaxTimeout = 5 * time.Minute
	// DefaultMaxOutput is the number of output bytes returned to the caller.
	DefaultMaxOutput = 16 * 1024
)

// RunCommandRequest is the input of the run_command tool.
type RunCommandRequest struct {
	Command   string `json:"command" jsonschema:"description=The shell command line to execute with /bin/sh -c" validate:"required"`
	Dir       string `json:"dir,omitempty" jsonschema:"description=Working directory; defaults to the provider root"`
	TimeoutMs int64  `json:"timeout_ms,omitempty" jsonschema:"description=Timeout in milliseconds; defaults to 30000" validate:"omitempty,min=1"`
}

// Config for the provider
type Config struct {
	// Shell defaults to /bin/sh
	Shell string `json:"shell,omitempty" yaml:"shell,omitempty"`
	// Dir is the default working directory
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Allowed restricts the first word of the command line, if not empty.
	Allowed []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	// Timeout is the default timeout, DefaultTimeout if zero.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// MaxOutput is the number of output bytes returned, DefaultMaxOutput if zero.
	MaxOutput int `json:"max_output,omitempty" yaml:"max_output,omitempty"`
}

type provider struct {
	cfg Config
}

// New returns the shell provider server.
func New(cfg Config, opts ...server.Option) (*server.Server, error) {
	cfg.Shell = values.StringsCoalesce(cfg.Shell, "/bin/sh")
	cfg.Timeout = time.Duration(values.NumbersCoalesce(int64(cfg.Timeout), int64(DefaultTimeout)))
	cfg.MaxOutput = int(values.NumbersCoalesce(int64(cfg.MaxOutput), DefaultMaxOutput))

	p := &provider{cfg: cfg}
	def, err := server.AddTool(ToolName,
		"Run a shell command and return its combined output and exit code. Long running commands are killed on timeout.",
		p.run)
	if err != nil {
		return nil, err
	}
	return server.NewFromDefinitions(protocol.Implementation{Name: "shell", Version: "1.0.0"},
		[]server.ToolDefinition{def}, opts...)
}

func (p *provider) allowed(command string) bool {
	if len(p.cfg.Allowed) == 0 {
		return true
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	return slices.Contains(p.cfg.Allowed, fields[0])
}

func (p *provider) timeout(ms int64) time.Duration {
	if ms <= 0 {
		return p.cfg.Timeout
	}
	return min(time.Duration(ms)*time.Millisecond, MaxTimeout)
}

func (p *provider) run(ctx context.Context, req *RunCommandRequest) (*protocol.CallToolResult, error) {
	if !p.allowed(req.Command) {
		return protocol.ErrorResult("command is not allowed: %s", req.Command), nil
	}

	timeout := p.timeout(req.TimeoutMs)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.Shell, "-c", req.Command)
	cmd.Dir = values.StringsCoalesce(req.Dir, p.cfg.Dir)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	// do not wait forever for grandchildren holding the output pipe
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	output := out.String()
	if len(output) > p.cfg.MaxOutput {
		output = xslices.StringUpto(output, p.cfg.MaxOutput) + "\n[output truncated]"
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.ContextKV(ctx, xlog.WARNING, "reason", "timeout", "command", req.Command, "timeout", timeout)
		return protocol.ErrorResult("command timed out after %s\n%s", timeout, output), nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrapf(err, "failed to run command")
		}
		exitCode = exitErr.ExitCode()
	}

	logger.ContextKV(ctx, xlog.DEBUG, "command", req.Command, "exit_code", exitCode, "elapsed", elapsed)

	text := fmt.Sprintf("exit code: %d\n%s", exitCode, output)
	if exitCode != 0 {
		return protocol.ErrorResult("%s", text), nil
	}
	return protocol.TextResult(text), nil
}
