package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jllopis/camel/pkg/guardrails"
	"github.com/jllopis/camel/pkg/interpreter"
	"github.com/jllopis/camel/pkg/mcp"
	"github.com/jllopis/camel/pkg/policy"
	"github.com/jllopis/camel/pkg/telemetry"
	"github.com/jllopis/camel/pkg/tools"
	"github.com/jllopis/camel/pkg/trace"
)

// loadPolicy builds the engine from policy.file, or the built-in table.
// With policy.watch the file is reloaded until ctx ends.
func loadPolicy(ctx context.Context) (*policy.Engine, error) {
	if cfg.Policy.File == "" {
		return policy.DefaultEngine(), nil
	}
	pc, err := policy.LoadConfig(cfg.Policy.File)
	if err != nil {
		return nil, NewConfigError(err, cfg.Policy.File)
	}
	engine, err := policy.NewEngine(pc, policy.WithLogger(logger))
	if err != nil {
		return nil, NewConfigError(err, cfg.Policy.File)
	}
	if cfg.Policy.Watch {
		w, err := policy.NewWatcher(engine, cfg.Policy.File, policy.WithWatchLogger(logger))
		if err != nil {
			return nil, err
		}
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("policy watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}
	return engine, nil
}

// openStore opens the configured trace store. The returned close func is
// never nil.
func openStore() (trace.Store, func() error, error) {
	switch cfg.Trace.Store {
	case "sqlite":
		s, err := trace.OpenSQLiteStore(cfg.Trace.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace store: %w", err)
		}
		return s, s.Close, nil
	default:
		return trace.NewMemoryStore(), func() error { return nil }, nil
	}
}

// mcpServers converts the configured servers, sorted by name.
func mcpServers() []mcp.ServerConfig {
	names := make([]string, 0, len(cfg.MCP.Servers))
	for name := range cfg.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]mcp.ServerConfig, 0, len(names))
	for _, name := range names {
		s := cfg.MCP.Servers[name]
		out = append(out, mcp.ServerConfig{
			Name:    name,
			Command: s.Command,
			Args:    s.Args,
			URL:     s.URL,
			Prefix:  s.Prefix,
		})
	}
	return out
}

// interpreterOptions returns the options every command shares.
func interpreterOptions(engine *policy.Engine, store trace.Store, metrics *telemetry.RuntimeMetrics) []interpreter.Option {
	opts := []interpreter.Option{
		interpreter.WithPolicy(engine),
		interpreter.WithStrict(cfg.Runtime.Strict),
		interpreter.WithPromoteVerified(cfg.Runtime.PromoteVerifiedExtractions),
		interpreter.WithPrincipal(cfg.Runtime.Principal),
		interpreter.WithStore(store),
		interpreter.WithScanner(guardrails.New(guardrails.WithPromptInjectionDetector())),
		interpreter.WithLimits(cfg.Runtime.MaxItems, cfg.Runtime.MaxSteps),
		interpreter.WithLogger(logger),
	}
	if metrics != nil {
		opts = append(opts, interpreter.WithMetrics(metrics))
	}
	return opts
}

// newMetrics returns nil when telemetry is off.
func newMetrics() *telemetry.RuntimeMetrics {
	if cfg.Telemetry.Exporter == "none" {
		return nil
	}
	m, err := telemetry.NewRuntimeMetrics()
	if err != nil {
		logger.Warn("metrics disabled", slog.String("error", err.Error()))
		return nil
	}
	return m
}

// loadTools reads a static tools file when path is set.
func loadTools(path string) (tools.Executor, error) {
	if path == "" {
		return tools.NewRegistry(), nil
	}
	s, err := tools.LoadStatic(path)
	if err != nil {
		return nil, NewNotFoundError("tools file", path, err)
	}
	return s, nil
}
