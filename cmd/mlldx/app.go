package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	config "github.com/mlld-lang/mlld-sub001/internal/config"
	effectlog "github.com/mlld-lang/mlld-sub001/internal/effectlog"
	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	grpctp "github.com/mlld-lang/mlld-sub001/internal/grpctp"
	log "github.com/mlld-lang/mlld-sub001/internal/log"
	manifest "github.com/mlld-lang/mlld-sub001/internal/manifest"
	otel "github.com/mlld-lang/mlld-sub001/internal/otel"
	protoreg "github.com/mlld-lang/mlld-sub001/internal/protoreg"
	remote "github.com/mlld-lang/mlld-sub001/internal/remote"
	runtimes "github.com/mlld-lang/mlld-sub001/internal/runtimes"
)

// app is everything a dispatching command needs.
type app struct {
	cfg     *config.Config
	scope   *env.Environment
	exec    *executor.Executor
	display effects.Sink
	log     *effectlog.Store
	closers []func() error
}

// setup loads config and manifest and wires runtimes, tracing and sinks.
// Effects are displayed on out.
func setup(g *globalFlags, out io.Writer) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}
	if err := a.initLog(); err != nil {
		return nil, err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	host := runtimes.NewHost(cfg.NewShell())
	if err := a.attachRemote(host); err != nil {
		a.close()
		return nil, err
	}

	var opts []executor.Option
	analyzer, err := cfg.Analyzer()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("policy: %w", err)
	}
	if analyzer != nil {
		opts = append(opts, executor.WithAnalyzer(analyzer))
	}
	a.exec = executor.NewExecutor(host, opts...)

	m, err := manifest.Load(g.manifest)
	if err != nil {
		a.close()
		return nil, err
	}
	if a.scope, err = m.Scope(); err != nil {
		a.close()
		return nil, err
	}

	a.display = effects.NewTerminal(out, g.prefix)
	if cfg.EffectLog.Path != "" {
		store, err := effectlog.Open(cfg.EffectLog.Path)
		if err != nil {
			a.close()
			return nil, err
		}
		a.log = store
		a.closers = append(a.closers, store.Close)
	}
	return a, nil
}

func (a *app) initLog() error {
	if a.cfg.Log.File == "" {
		log.Init(a.cfg.Log.Level, nil)
		return nil
	}
	f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.Init(a.cfg.Log.Level, f)
	a.closers = append(a.closers, f.Close)
	return nil
}

// attachRemote registers a remote code runtime for every configured
// language target and a remote prompt backend for the "prompt" target.
func (a *app) attachRemote(host *runtimes.Host) error {
	eps := a.cfg.Remote.Endpoints
	if len(eps) == 0 {
		return nil
	}
	reg, err := protoreg.Default()
	if err != nil {
		return fmt.Errorf("protoreg build: %w", err)
	}
	tp := grpctp.New(
		grpctp.WithProvider(grpctp.NewStaticEndpoints(eps)),
		grpctp.WithMaxConnsPerEndpoint(a.cfg.Remote.MaxConnsPerEndpoint),
		grpctp.WithRPCTimeout(a.cfg.Remote.RPCTimeout.Duration),
	)
	a.closers = append(a.closers, tp.Close)

	code := remote.NewCodeRuntime(tp, reg)
	targets := make([]string, 0, len(eps))
	for t := range eps {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		if t == remote.PromptTarget {
			host.Prompt = remote.NewPromptBackend(tp, reg)
			continue
		}
		host.Code.Register(code, t)
	}
	log.Debug("remote runtimes attached", "targets", targets)
	return nil
}

// sink returns the live sink for one dispatch: the display surface plus the
// effect log when configured.
func (a *app) sink() effects.Sink {
	if a.log == nil {
		return a.display
	}
	return effects.Multi(a.display, a.log)
}

// context returns a fresh execution context over a child of the manifest
// scope.
func (a *app) context(ctx context.Context) *executor.Context {
	ec := executor.NewContext(ctx, a.scope.Child(), a.sink())
	ec.PolicyChecks = a.cfg.Policy.Enabled
	return ec
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Debug("close failed", "err", err)
		}
	}
	a.closers = nil
}
