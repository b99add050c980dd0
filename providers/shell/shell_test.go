//go:build !windows

package shell_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/providers/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, cfg shell.Config, args string) *protocol.CallToolResult {
	t.Helper()
	s, err := shell.New(cfg)
	require.NoError(t, err)

	res, perr := s.CallTool(context.Background(), &protocol.CallToolParams{
		Name:      shell.ToolName,
		Arguments: json.RawMessage(args),
	})
	require.Nil(t, perr)
	require.NotNil(t, res)
	return res
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	res := runCommand(t, shell.Config{}, `{"command":"echo hello; echo oops >&2"}`)
	assert.False(t, res.IsError)
	assert.Equal(t, "exit code: 0\nhello\noops\n", res.Text())

	dir := t.TempDir()
	res = runCommand(t, shell.Config{Dir: dir}, `{"command":"pwd"}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Text(), dir)

	res = runCommand(t, shell.Config{}, `{"command":"exit 3"}`)
	assert.True(t, res.IsError)
	assert.Equal(t, "exit code: 3\n", res.Text())
}

func TestRunCommand_Invalid(t *testing.T) {
	t.Parallel()

	res := runCommand(t, shell.Config{}, `{}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "command")

	res = runCommand(t, shell.Config{Allowed: []string{"echo"}}, `{"command":"rm -rf /tmp/nothing"}`)
	assert.True(t, res.IsError)
	assert.Equal(t, "command is not allowed: rm -rf /tmp/nothing", res.Text())

	res = runCommand(t, shell.Config{Allowed: []string{"echo"}}, `{"command":"echo allowed"}`)
	assert.False(t, res.IsError)
}

func TestRunCommand_Timeout(t *testing.T) {
	t.Parallel()

	started := time.Now()
	// the background child keeps the output pipe open, the group kill stops it
	res := runCommand(t, shell.Config{}, `{"command":"sleep 10 & echo started; sleep 10","timeout_ms":200}`)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(res.Text(), "command timed out after 200ms"), res.Text())
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestRunCommand_Truncated(t *testing.T) {
	t.Parallel()

	res := runCommand(t, shell.Config{MaxOutput: 10}, `{"command":"printf '%0100d' 0"}`)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasSuffix(res.Text(), "[output truncated]"))
	assert.Less(t, len(res.Text()), 60)
}
