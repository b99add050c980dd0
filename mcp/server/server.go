// Package server hosts tools behind the provider protocol.
//
// A Server answers three requests over a transport.Conn:
//
//   - initialize: protocol version, server info and capabilities
//   - tools/list: the static tool list declared at construction
//   - tools/call: dispatch to the handler registered for the tool name
//
// The handler table is validated against the declared tools in New, so a
// declared tool without a handler, or a handler without a declaration,
// fails at startup instead of at call time.
package server

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/mcp/transport"
	"github.com/effective-security/toolmesh/pkg/metricskey"
	"github.com/effective-security/toolmesh/pkg/schema"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "mcp/server")

// Handler executes one tool call.
// A returned error is reported to the caller as an isError result.
type Handler func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error)

// Option configures a Server.
type Option func(*Server)

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(instructions string) Option {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithHandlerTimeout bounds the duration of every handler call.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// Server is a tool provider.
type Server struct {
	info         protocol.Implementation
	instructions string
	timeout      time.Duration

	tools    []protocol.Tool
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema

	lock     sync.Mutex
	inflight map[string]context.CancelFunc
}

// New returns a server for the declared tools.
// Every declared tool must have exactly one handler and vice versa.
func New(info protocol.Implementation, tools []protocol.Tool, handlers map[string]Handler, opts ...Option) (*Server, error) {
	s := &Server{
		info:     info,
		tools:    make([]protocol.Tool, 0, len(tools)),
		handlers: make(map[string]Handler, len(handlers)),
		schemas:  make(map[string]*jsonschema.Schema, len(tools)),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("tool name is required")
		}
		if _, ok := s.schemas[t.Name]; ok {
			return nil, errors.Errorf("duplicate tool: %s", t.Name)
		}
		h, ok := handlers[t.Name]
		if !ok || h == nil {
			return nil, errors.Errorf("no handler for tool: %s", t.Name)
		}
		sc, err := schema.FromRaw(t.InputSchema)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid input schema for tool %s", t.Name)
		}
		if len(t.InputSchema) == 0 {
			t.InputSchema = json.RawMessage(`{"type":"object"}`)
		}
		s.tools = append(s.tools, t)
		s.handlers[t.Name] = h
		s.schemas[t.Name] = sc
	}

	var undeclared []string
	for name := range handlers {
		if _, ok := s.schemas[name]; !ok {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return nil, errors.Errorf("handlers without declared tools: %s", strings.Join(undeclared, ", "))
	}

	return s, nil
}

// NewFromDefinitions returns a server for the tool definitions.
func NewFromDefinitions(info protocol.Implementation, defs []ToolDefinition, opts ...Option) (*Server, error) {
	tools := make([]protocol.Tool, 0, len(defs))
	handlers := make(map[string]Handler, len(defs))
	for _, d := range defs {
		if _, ok := handlers[d.Tool.Name]; ok {
			return nil, errors.Errorf("duplicate tool: %s", d.Tool.Name)
		}
		tools = append(tools, d.Tool)
		handlers[d.Tool.Name] = d.Handler
	}
	return New(info, tools, handlers, opts...)
}

// Info returns the server identity.
func (s *Server) Info() protocol.Implementation {
	return s.info
}

// Tools returns the declared tools.
func (s *Server) Tools() []protocol.Tool {
	return s.tools
}

// Initialize answers the handshake.
func (s *Server) Initialize(_ *protocol.InitializeParams) *protocol.InitializeResult {
	return &protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools: &protocol.ToolsCapability{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}
}

// CallTool runs the named tool.
// An unknown name is a protocol error, every other failure is an isError result.
func (s *Server) CallTool(ctx context.Context, params *protocol.CallToolParams) (*protocol.CallToolResult, *protocol.Error) {
	h, ok := s.handlers[params.Name]
	if !ok {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "tool not found: %s", params.Name)
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	var argsMap map[string]any
	if err := json.Unmarshal(args, &argsMap); err != nil {
		return protocol.ErrorResult("invalid arguments for %s: arguments must be a JSON object", params.Name), nil
	}
	if missing := schema.MissingRequired(s.schemas[params.Name], argsMap); len(missing) > 0 {
		return protocol.ErrorResult("missing required argument: %s", strings.Join(missing, ", ")), nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	res, err := s.invoke(ctx, h, args)
	metricskey.PerfToolHandler.MeasureSince(started, s.info.Name, params.Name)

	if err != nil {
		metricskey.StatsToolHandlerErrors.IncrCounter(1, s.info.Name, params.Name)
		logger.ContextKV(ctx, xlog.DEBUG,
			"tool", params.Name,
			"status", "handler_failed",
			"err", err.Error(),
		)
		return protocol.ErrorResult("%s", err.Error()), nil
	}
	if res == nil {
		res = &protocol.CallToolResult{Content: []protocol.Content{}}
	}
	return res, nil
}

func (s *Server) invoke(ctx context.Context, h Handler, args json.RawMessage) (res *protocol.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"status", "handler_panic",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = nil
			err = errors.Errorf("internal error: %v", r)
		}
	}()
	return h(ctx, args)
}

// Handle processes one incoming envelope and returns the response,
// or nil for notifications and stray responses.
func (s *Server) Handle(ctx context.Context, env *protocol.Envelope) *protocol.Envelope {
	if env.IsResponse() {
		logger.ContextKV(ctx, xlog.DEBUG, "status", "ignored_response", "id", env.ID)
		return nil
	}
	if env.IsNotification() {
		s.handleNotification(ctx, env)
		return nil
	}

	var (
		result any
		perr   *protocol.Error
	)

	switch env.Method {
	case protocol.MethodInitialize:
		var params protocol.InitializeParams
		if len(env.Params) > 0 {
			if err := json.Unmarshal(env.Params, &params); err != nil {
				perr = protocol.NewError(protocol.CodeInvalidParams, "invalid initialize params: %s", err.Error())
				break
			}
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "initialize",
			"client", params.ClientInfo.Name,
			"version", params.ProtocolVersion,
		)
		result = s.Initialize(&params)
	case protocol.MethodPing:
		result = struct{}{}
	case protocol.MethodToolsList, protocol.MethodCapabilitiesList:
		result = &protocol.ListToolsResult{Tools: s.tools}
	case protocol.MethodToolsCall, protocol.MethodCapabilitiesInvoke:
		var params protocol.CallToolParams
		if err := json.Unmarshal(env.Params, &params); err != nil || params.Name == "" {
			perr = protocol.NewError(protocol.CodeInvalidParams, "invalid tools/call params")
			break
		}
		result, perr = s.CallTool(ctx, &params)
	default:
		perr = protocol.NewError(protocol.CodeMethodNotFound, "method not found: %s", env.Method)
	}

	if perr != nil {
		return protocol.NewErrorResponse(env.ID, perr)
	}
	resp, err := protocol.NewResult(env.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(env.ID, protocol.NewError(protocol.CodeInternalError, "%s", err.Error()))
	}
	return resp
}

func (s *Server) handleNotification(ctx context.Context, env *protocol.Envelope) {
	switch env.Method {
	case protocol.NotificationCancelled:
		var params protocol.CancelledParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return
		}
		s.lock.Lock()
		cancel := s.inflight[params.RequestID.Key()]
		s.lock.Unlock()
		if cancel != nil {
			cancel()
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "cancelled",
			"id", params.RequestID.String(),
			"reason", params.Reason,
		)
	case protocol.NotificationInitialized:
		logger.ContextKV(ctx, xlog.DEBUG, "status", "initialized")
	default:
		logger.ContextKV(ctx, xlog.DEBUG, "status", "ignored_notification", "method", env.Method)
	}
}

// Serve reads requests from conn until EOF or ctx is done.
// Requests are handled concurrently, a malformed line is answered
// with a parse error and reading continues.
func (s *Server) Serve(ctx context.Context, conn *transport.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		env, err := conn.Read()
		if err != nil {
			var perr *protocol.ParseError
			if errors.As(err, &perr) {
				logger.ContextKV(ctx, xlog.WARNING,
					"status", "parse_error",
					"line", slices.StringUpto(string(perr.Line), 64),
					"err", perr.Reason,
				)
				if werr := conn.Write(protocol.NewErrorResponse(nil, perr.ToError())); werr != nil {
					return werr
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "failed to read request")
		}

		if !env.IsRequest() {
			s.Handle(ctx, env)
			continue
		}

		key := env.ID.Key()
		reqCtx, reqCancel := context.WithCancel(ctx)
		s.lock.Lock()
		s.inflight[key] = reqCancel
		s.lock.Unlock()

		wg.Add(1)
		go func(env *protocol.Envelope) {
			defer wg.Done()
			defer func() {
				s.lock.Lock()
				delete(s.inflight, key)
				s.lock.Unlock()
				reqCancel()
			}()

			resp := s.Handle(reqCtx, env)
			if resp == nil {
				return
			}
			if err := conn.Write(resp); err != nil {
				logger.ContextKV(ctx, xlog.ERROR,
					"status", "write_failed",
					"id", key,
					"err", err.Error(),
				)
			}
		}(env)
	}
}

// ServeStdio serves over the process standard input and output.
// Diagnostics must go to stderr.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, transport.NewConn(os.Stdin, os.Stdout))
}
