package main

import (
	"context"

	"github.com/effective-security/toolmesh/config"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/registry"
	"github.com/effective-security/xlog"
)

// startProviders registers the enabled providers and discovers their tools.
// A provider that fails to start is logged and skipped.
func startProviders(ctx context.Context, cfg *config.Config, opts ...registry.Option) *registry.Registry {
	opts = append([]registry.Option{
		registry.WithClientInfo(protocol.Implementation{Name: "toolmesh", Version: Version}),
	}, opts...)
	reg := registry.New(opts...)

	for _, p := range cfg.EnabledProviders() {
		if err := reg.Register(ctx, p); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"reason", "register",
				"provider", p.ID,
				"err", err.Error(),
			)
		}
	}
	reg.DiscoverAll(ctx)
	return reg
}
