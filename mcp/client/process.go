package client

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/transport"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// DefaultStopTimeout is how long a provider may take to exit after its
// standard input is closed, before the process group is killed.
const DefaultStopTimeout = 2 * time.Second

// Command describes a provider subprocess.
type Command struct {
	Path string
	Args []string
	// Env is appended to the current process environment.
	Env []string
	Dir string
	// StopTimeout overrides DefaultStopTimeout.
	StopTimeout time.Duration
}

type process struct {
	name        string
	cmd         *exec.Cmd
	stopTimeout time.Duration
	exited      chan struct{}
}

// Start spawns the provider and returns a client connected to its
// standard input and output. Stderr lines are logged.
// The process runs in its own process group, Close kills the whole group.
// The client fails every pending call when the process closes its output.
func Start(ctx context.Context, command Command, opts ...Option) (*Client, error) {
	if command.Path == "" {
		return nil, errors.New("provider command is required")
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stderr pipe")
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", command.Path)
	}

	p := &process{
		cmd:         cmd,
		stopTimeout: durationOr(command.StopTimeout, DefaultStopTimeout),
		exited:      make(chan struct{}),
	}

	c := New(transport.NewConn(stdout, stdin), opts...)
	p.name = c.name
	c.onClose = p.stop

	logger.KV(xlog.DEBUG,
		"provider", p.name,
		"status", "started",
		"pid", cmd.Process.Pid,
		"command", command.Path,
	)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.logStderr(stderr)
	}()

	// Wait closes the pipes: call it only after the read loop hit EOF
	// and stderr is drained. The read loop fails the client.
	go func() {
		<-c.Done()
		<-stderrDone
		err := cmd.Wait()
		close(p.exited)

		status := "exited"
		if err != nil {
			status = err.Error()
		}
		logger.KV(xlog.DEBUG, "provider", p.name, "status", "process_exited", "reason", status)
	}()

	return c, nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func (p *process) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.KV(xlog.DEBUG,
			"provider", p.name,
			"stderr", slices.StringUpto(scanner.Text(), 1024),
		)
	}
}

// stop waits for the process to exit after stdin was closed,
// then kills its process group.
func (p *process) stop() error {
	select {
	case <-p.exited:
		return nil
	case <-time.After(p.stopTimeout):
	}

	logger.KV(xlog.DEBUG, "provider", p.name, "status", "killing")
	if err := killProcessGroup(p.cmd); err != nil {
		logger.KV(xlog.WARNING, "provider", p.name, "status", "kill_failed", "err", err.Error())
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(p.stopTimeout):
		return errors.Errorf("%s: process %d did not exit", p.name, p.cmd.Process.Pid)
	}
}
