// Package app assembles a runnable agent tree from a config.Config: models,
// tools, session and artifact stores, logging and tracing.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/config"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/observer"
	"github.com/hupe1980/agenttree/runner"
	"github.com/hupe1980/agenttree/tool"
)

// Options overrides parts of the assembly.
type Options struct {
	// LogOutput receives log records. Defaults to os.Stderr.
	LogOutput io.Writer
	// Registry resolves model names. Defaults to NewRegistry(ctx, cfg.Model).
	Registry *model.Registry
	// Tools are added to the built-in tool catalog, replacing same-named entries.
	Tools []tool.Tool
	// Callbacks are passed to the runner.
	Callbacks *runner.CallbackManager
}

// App is an assembled agent tree ready to run.
type App struct {
	Config config.Config
	Root   core.Agent
	Runner *runner.Runner
	Logger *logging.StructuredLogger

	closers []func(context.Context) error
}

// Build validates cfg and assembles the App. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, optFns ...func(o *Options)) (*App, error) {
	opts := Options{LogOutput: os.Stderr}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    opts.LogOutput,
		AddSource: cfg.Log.AddSource,
		Component: "agenttree",
	})

	a := &App{Config: cfg, Logger: logger}

	if cfg.Observer.Endpoint != "" {
		shutdown, err := observer.Init(ctx, observer.Config{
			Endpoint:    cfg.Observer.Endpoint,
			Insecure:    cfg.Observer.Insecure,
			ServiceName: cfg.Observer.ServiceName,
			SampleRatio: cfg.Observer.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(ctx, cfg.Model)
	}

	catalog, err := Catalog(opts.Tools...)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	root, err := buildAgent(cfg.Agent, &treeBuilder{
		registry:  registry,
		tools:     catalog,
		rateLimit: cfg.Model.RateLimit,
		burst:     cfg.Model.Burst,
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Root = root

	sessions, closeSessions, err := OpenSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, closeSessions)

	artifacts, err := OpenArtifactStore(cfg.Artifact)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Runner = runner.New(root, func(o *runner.Options) {
		o.AppName = cfg.Run.AppName
		o.UserID = cfg.Run.UserID
		o.RunConfig = cfg.RunConfig()
		o.MaxConcurrentInvocations = cfg.Run.MaxConcurrentInvocations
		o.FailOnPersistError = cfg.Run.FailOnPersistError
		o.SessionStore = sessions
		o.ArtifactStore = artifacts
		o.Logger = logger
		o.Callbacks = opts.Callbacks
	})

	logger.Debug("app.build.complete",
		"root", root.Name(),
		"session_backend", cfg.Session.Backend,
		"artifact_backend", cfg.Artifact.Backend,
	)

	return a, nil
}

// Close releases stores and flushes tracing, in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
