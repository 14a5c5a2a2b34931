// Copyright © 2024 The standard-ls authors

package cmd

import (
	"time"

	"github.com/spf13/viper"

	"github.com/standard-ls/standard-ls/engine"
	"github.com/standard-ls/standard-ls/resolve"
	"github.com/standard-ls/standard-ls/settings"
)

// Option configures an exported command factory (LintCommand, LSPCommand).
type Option func(*cmdConfig)

type cmdConfig struct {
	runner   engine.Runner
	resolver *resolve.Resolver
}

// WithRunner replaces the Node.js engine runner. Embedders and tests use it
// to lint without a node installation.
func WithRunner(r engine.Runner) Option {
	return func(c *cmdConfig) { c.runner = r }
}

// WithResolver injects the resolver used to locate manifests and engine
// libraries.
func WithResolver(r *resolve.Resolver) Option {
	return func(c *cmdConfig) { c.resolver = r }
}

func newCmdConfig(opts []Option) *cmdConfig {
	var cfg cmdConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &cfg
}

// runnerFor returns the injected runner, or a node runner using the
// runtime and NODE_PATH of st.
func (c *cmdConfig) runnerFor(st settings.Settings) engine.Runner {
	if c.runner != nil {
		return c.runner
	}
	return &engine.NodeRunner{
		Runtime:  st.Runtime,
		NodePath: st.NodePath,
		Timeout:  lintTimeout(),
	}
}

func (c *cmdConfig) resolverOrNew() *resolve.Resolver {
	if c.resolver != nil {
		return c.resolver
	}
	return resolve.New()
}

// lintTimeout returns the configured bound on one engine run.
func lintTimeout() time.Duration {
	if d := viper.GetDuration("lint-timeout"); d > 0 {
		return d
	}
	return engine.DefaultTimeout
}
