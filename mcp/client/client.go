// Package client talks to a tool provider over the provider protocol.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/mcp/transport"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "mcp/client")

var (
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("provider connection closed")
	// ErrHandshakeTimeout marks an initialize call that ran out of time.
	ErrHandshakeTimeout = errors.New("provider handshake timed out")
)

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout bounds every request made by the client.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithName sets the name used in logs.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// Client correlates requests and responses on one connection.
// It is safe for concurrent use.
type Client struct {
	name        string
	conn        *transport.Conn
	callTimeout time.Duration
	nextID      atomic.Int64

	lock    sync.Mutex
	pending map[string]chan *protocol.Envelope
	err     error
	done    chan struct{}

	closeOnce sync.Once
	onClose   func() error

	initResult *protocol.InitializeResult
}

// New starts reading responses from conn.
func New(conn *transport.Conn, opts ...Option) *Client {
	c := &Client{
		name:    "provider",
		conn:    conn,
		pending: make(map[string]chan *protocol.Envelope),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		env, err := c.conn.Read()
		if err != nil {
			var perr *protocol.ParseError
			if errors.As(err, &perr) {
				logger.KV(xlog.WARNING,
					"provider", c.name,
					"status", "malformed_response",
					"line", slices.StringUpto(string(perr.Line), 64),
					"err", perr.Reason,
				)
				continue
			}
			c.fail(errors.WithMessagef(ErrClosed, "%s: %s", c.name, err.Error()))
			return
		}

		switch {
		case env.IsResponse():
			if env.ID == nil {
				logger.KV(xlog.WARNING,
					"provider", c.name,
					"status", "response_without_id",
					"err", env.Error,
				)
				continue
			}
			key := env.ID.Key()
			c.lock.Lock()
			ch := c.pending[key]
			delete(c.pending, key)
			c.lock.Unlock()
			if ch == nil {
				logger.KV(xlog.DEBUG, "provider", c.name, "status", "unsolicited_response", "id", key)
				continue
			}
			ch <- env
		case env.IsRequest():
			// the client does not host any methods
			resp := protocol.NewErrorResponse(env.ID, protocol.NewError(protocol.CodeMethodNotFound, "method not found: %s", env.Method))
			if werr := c.conn.Write(resp); werr != nil {
				logger.KV(xlog.DEBUG, "provider", c.name, "status", "write_failed", "err", werr.Error())
			}
		default:
			logger.KV(xlog.DEBUG, "provider", c.name, "status", "notification", "method", env.Method)
		}
	}
}

// fail terminates the client and releases every pending call.
func (c *Client) fail(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
	c.pending = make(map[string]chan *protocol.Envelope)
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error, or nil while the connection is alive.
func (c *Client) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

// Name returns the provider name used in logs.
func (c *Client) Name() string {
	return c.name
}

// Call sends a request and decodes the result into result, which may be nil.
// An error response is returned as *protocol.Error.
// When ctx ends first, a cancellation notification is sent to the provider.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := protocol.NewNumberID(c.nextID.Add(1))
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}
	key := id.Key()

	ch := make(chan *protocol.Envelope, 1)
	c.lock.Lock()
	if c.err != nil {
		c.lock.Unlock()
		return c.err
	}
	c.pending[key] = ch
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		delete(c.pending, key)
		c.lock.Unlock()
	}()

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if err := c.conn.Write(req); err != nil {
		if cerr := c.Err(); cerr != nil {
			return cerr
		}
		return errors.WithMessagef(err, "failed to send %s", method)
	}

	select {
	case resp := <-ch:
		return decodeResponse(resp, result)
	case <-ctx.Done():
		c.cancelRequest(id, ctx.Err())
		return errors.WithMessagef(ctx.Err(), "%s %s", c.name, method)
	case <-c.done:
		// a response may have been delivered just before the connection dropped
		select {
		case resp := <-ch:
			return decodeResponse(resp, result)
		default:
		}
		return c.Err()
	}
}

func decodeResponse(resp *protocol.Envelope, result any) error {
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return errors.Wrap(err, "failed to decode result")
		}
	}
	return nil
}

func (c *Client) cancelRequest(id protocol.ID, reason error) {
	err := c.Notify(protocol.NotificationCancelled, &protocol.CancelledParams{
		RequestID: id,
		Reason:    reason.Error(),
	})
	if err != nil {
		logger.KV(xlog.DEBUG, "provider", c.name, "status", "cancel_failed", "err", err.Error())
	}
}

// Notify sends a notification.
func (c *Client) Notify(method string, params any) error {
	if err := c.Err(); err != nil {
		return err
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.conn.Write(n)
}

// Initialize performs the handshake and announces readiness.
func (c *Client) Initialize(ctx context.Context, clientInfo protocol.Implementation) (*protocol.InitializeResult, error) {
	params := &protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo,
	}
	var res protocol.InitializeResult
	if err := c.Call(ctx, protocol.MethodInitialize, params, &res); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Mark(err, ErrHandshakeTimeout)
		}
		return nil, errors.WithMessage(err, "initialize failed")
	}
	if err := c.Notify(protocol.NotificationInitialized, nil); err != nil {
		return nil, errors.WithMessage(err, "initialized notification failed")
	}

	c.lock.Lock()
	c.initResult = &res
	c.lock.Unlock()

	if res.ProtocolVersion != protocol.ProtocolVersion {
		logger.KV(xlog.INFO,
			"provider", c.name,
			"status", "protocol_version_mismatch",
			"server", res.ProtocolVersion,
			"client", protocol.ProtocolVersion,
		)
	}
	return &res, nil
}

// ServerInfo returns the handshake result, or nil before Initialize.
func (c *Client) ServerInfo() *protocol.InitializeResult {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.initResult
}

// ListTools returns all tools, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var (
		tools  []protocol.Tool
		cursor string
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		var res protocol.ListToolsResult
		if err := c.Call(ctx, protocol.MethodToolsList, params, &res); err != nil {
			return nil, errors.WithMessage(err, "tools/list failed")
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool invokes a tool. A tool failure is reported in the result,
// the error is set only when the exchange failed.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	var res protocol.CallToolResult
	if err := c.Call(ctx, protocol.MethodToolsCall, &protocol.CallToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close closes the connection and, for spawned providers, stops the process.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.fail(errors.WithMessage(ErrClosed, c.name))
		err = c.conn.Close()
		if c.onClose != nil {
			if cerr := c.onClose(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
