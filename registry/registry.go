// Package registry owns the configured tool providers: it starts them,
// discovers their tools and routes invocations by provider and tool name.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/client"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "registry")

// DefaultHandshakeTimeout bounds the initialize exchange of a new provider.
const DefaultHandshakeTimeout = 10 * time.Second

var (
	// ErrUnknownProvider is returned for a provider id that is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrDuplicateProvider is returned when a provider id is registered twice.
	ErrDuplicateProvider = errors.New("duplicate provider")
)

// ProviderConfig describes how to launch one provider.
type ProviderConfig struct {
	ID      string   `json:"id" yaml:"id"`
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Env is appended to the environment of the current process.
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration `json:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty"`
	// CallTimeout bounds every request to the provider, zero means no bound.
	CallTimeout time.Duration `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`
	Disabled    bool          `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Conn is a live connection to a provider.
type Conn interface {
	Initialize(ctx context.Context, clientInfo protocol.Implementation) (*protocol.InitializeResult, error)
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error)
	Done() <-chan struct{}
	Close() error
}

// Connector opens a connection to a provider.
type Connector func(ctx context.Context, cfg *ProviderConfig) (Conn, error)

// ProcessConnector spawns the provider command.
func ProcessConnector(ctx context.Context, cfg *ProviderConfig) (Conn, error) {
	c, err := client.Start(ctx, client.Command{
		Path: cfg.Command,
		Args: cfg.Args,
		Env:  cfg.Env,
		Dir:  cfg.Dir,
	}, client.WithName(cfg.ID), client.WithCallTimeout(cfg.CallTimeout))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RoutedTool is a tool tagged with the provider that serves it.
type RoutedTool struct {
	ProviderID string
	protocol.Tool
}

// Collision reports a tool name declared by more than one provider.
// The provider registered first keeps the name.
type Collision struct {
	Name    string
	Winner  string
	Dropped string
}

// InvocationError is returned when a provider could not be reached,
// as opposed to a tool that ran and reported a failure in its result.
type InvocationError struct {
	ProviderID string
	Tool       string
	Err        error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("failed to invoke %s on provider %s: %s", e.Tool, e.ProviderID, e.Err.Error())
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Option configures a Registry.
type Option func(*Registry)

// WithConnector replaces ProcessConnector.
func WithConnector(connect Connector) Option {
	return func(r *Registry) {
		r.connect = connect
	}
}

// WithClientInfo sets the identity sent in the handshake.
func WithClientInfo(info protocol.Implementation) Option {
	return func(r *Registry) {
		r.clientInfo = info
	}
}

type provider struct {
	cfg   ProviderConfig
	conn  Conn
	info  *protocol.InitializeResult
	tools []protocol.Tool
}

func (p *provider) alive() bool {
	select {
	case <-p.conn.Done():
		return false
	default:
		return true
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	clientInfo protocol.Implementation
	connect    Connector

	lock       sync.RWMutex
	providers  map[string]*provider
	order      []string
	index      map[string]string
	collisions []Collision
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		clientInfo: protocol.Implementation{Name: "toolmesh", Version: "dev"},
		connect:    ProcessConnector,
		providers:  make(map[string]*provider),
		index:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register starts the provider and performs the handshake.
// A failure is returned to the caller and not retried.
// A disabled provider is skipped.
func (r *Registry) Register(ctx context.Context, cfg ProviderConfig) error {
	if cfg.ID == "" {
		return errors.New("provider id is required")
	}
	if cfg.Disabled {
		logger.ContextKV(ctx, xlog.DEBUG, "provider", cfg.ID, "status", "disabled")
		return nil
	}

	r.lock.RLock()
	_, exists := r.providers[cfg.ID]
	r.lock.RUnlock()
	if exists {
		return errors.WithMessage(ErrDuplicateProvider, cfg.ID)
	}

	conn, err := r.connect(ctx, &cfg)
	if err != nil {
		metricskey.StatsProviderRegistrationsFailed.IncrCounter(1, cfg.ID)
		return errors.WithMessagef(err, "failed to start provider %s", cfg.ID)
	}

	timeout := time.Duration(values.NumbersCoalesce(int64(cfg.HandshakeTimeout), int64(DefaultHandshakeTimeout)))
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := conn.Initialize(hctx, r.clientInfo)
	if err != nil {
		metricskey.StatsProviderRegistrationsFailed.IncrCounter(1, cfg.ID)
		_ = conn.Close()
		return errors.WithMessagef(err, "failed to register provider %s", cfg.ID)
	}

	r.lock.Lock()
	if _, exists := r.providers[cfg.ID]; exists {
		r.lock.Unlock()
		_ = conn.Close()
		return errors.WithMessage(ErrDuplicateProvider, cfg.ID)
	}
	p := &provider{cfg: cfg, conn: conn, info: info}
	r.providers[cfg.ID] = p
	r.order = append(r.order, cfg.ID)
	r.lock.Unlock()

	go r.supervise(p)

	logger.ContextKV(ctx, xlog.DEBUG,
		"provider", cfg.ID,
		"status", "registered",
		"server", info.ServerInfo.Name,
		"version", info.ServerInfo.Version,
	)
	return nil
}

// supervise reports a provider that went away on its own.
func (r *Registry) supervise(p *provider) {
	<-p.conn.Done()

	r.lock.RLock()
	current := r.providers[p.cfg.ID] == p
	r.lock.RUnlock()
	if current {
		logger.KV(xlog.WARNING,
			"provider", p.cfg.ID,
			"status", "provider_exited",
		)
	}
}

// DiscoverAll lists the tools of every live provider concurrently and
// rebuilds the routing index. A provider that fails is excluded and logged.
func (r *Registry) DiscoverAll(ctx context.Context) map[string][]protocol.Tool {
	r.lock.RLock()
	targets := make([]*provider, 0, len(r.order))
	for _, id := range r.order {
		targets = append(targets, r.providers[id])
	}
	r.lock.RUnlock()

	discovered := make([][]protocol.Tool, len(targets))
	failed := make([]bool, len(targets))

	var g errgroup.Group
	for i, p := range targets {
		g.Go(func() error {
			if !p.alive() {
				failed[i] = true
				logger.ContextKV(ctx, xlog.WARNING, "provider", p.cfg.ID, "status", "discovery_skipped", "reason", "not running")
				return nil
			}
			tools, err := p.conn.ListTools(ctx)
			if err != nil {
				failed[i] = true
				metricskey.StatsProviderDiscoveryFailed.IncrCounter(1, p.cfg.ID)
				logger.ContextKV(ctx, xlog.WARNING,
					"provider", p.cfg.ID,
					"status", "discovery_failed",
					"err", err.Error(),
				)
				return nil
			}
			discovered[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string][]protocol.Tool, len(targets))

	r.lock.Lock()
	defer r.lock.Unlock()
	for i, p := range targets {
		if r.providers[p.cfg.ID] != p {
			// shut down while listing
			continue
		}
		if failed[i] {
			p.tools = nil
			continue
		}
		p.tools = discovered[i]
		result[p.cfg.ID] = discovered[i]
	}
	r.rebuildIndex()

	return result
}

// rebuildIndex must be called with the write lock held.
func (r *Registry) rebuildIndex() {
	r.index = make(map[string]string)
	r.collisions = nil
	for _, id := range r.order {
		p := r.providers[id]
		for _, t := range p.tools {
			if winner, ok := r.index[t.Name]; ok {
				if winner == id {
					continue
				}
				r.collisions = append(r.collisions, Collision{Name: t.Name, Winner: winner, Dropped: id})
				logger.KV(xlog.WARNING,
					"tool", t.Name,
					"status", "name_collision",
					"provider", winner,
					"dropped", id,
				)
				continue
			}
			r.index[t.Name] = id
		}
	}
}

// Invoke calls a tool on the provider.
// A transport failure is returned as *InvocationError, a tool failure is
// reported by IsError in the result.
func (r *Registry) Invoke(ctx context.Context, providerID, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	r.lock.RLock()
	p, ok := r.providers[providerID]
	r.lock.RUnlock()
	if !ok {
		return nil, errors.WithMessage(ErrUnknownProvider, providerID)
	}

	started := time.Now()
	res, err := p.conn.CallTool(ctx, name, args)
	metricskey.PerfProviderCall.MeasureSince(started, providerID, name)
	if err != nil {
		metricskey.StatsProviderInvocationFailed.IncrCounter(1, providerID)
		logger.ContextKV(ctx, xlog.DEBUG,
			"provider", providerID,
			"tool", name,
			"status", "invocation_failed",
			"err", err.Error(),
		)
		return nil, &InvocationError{ProviderID: providerID, Tool: name, Err: err}
	}
	return res, nil
}

// Resolve returns the provider serving the tool name.
func (r *Registry) Resolve(name string) (string, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	id, ok := r.index[name]
	return id, ok
}

// Tools returns the routed tools sorted by name.
func (r *Registry) Tools() []RoutedTool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]RoutedTool, 0, len(r.index))
	for _, id := range r.order {
		for _, t := range r.providers[id].tools {
			if r.index[t.Name] == id {
				list = append(list, RoutedTool{ProviderID: id, Tool: t})
			}
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Collisions returns the tool names dropped at the last discovery.
func (r *Registry) Collisions() []Collision {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]Collision(nil), r.collisions...)
}

// Providers returns the registered provider ids in registration order.
func (r *Registry) Providers() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.order...)
}

// ServerInfo returns the handshake result of the provider.
func (r *Registry) ServerInfo(providerID string) (*protocol.InitializeResult, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return nil, errors.WithMessage(ErrUnknownProvider, providerID)
	}
	return p.info, nil
}

// Shutdown stops the provider and removes its tools from the index.
func (r *Registry) Shutdown(providerID string) error {
	r.lock.Lock()
	p, ok := r.providers[providerID]
	if !ok {
		r.lock.Unlock()
		return errors.WithMessage(ErrUnknownProvider, providerID)
	}
	delete(r.providers, providerID)
	for i, id := range r.order {
		if id == providerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.rebuildIndex()
	r.lock.Unlock()

	logger.KV(xlog.DEBUG, "provider", providerID, "status", "shutdown")
	return p.conn.Close()
}

// Close stops every provider.
func (r *Registry) Close() error {
	var err error
	for _, id := range r.Providers() {
		if serr := r.Shutdown(id); serr != nil {
			err = errors.CombineErrors(err, serr)
		}
	}
	return err
}
