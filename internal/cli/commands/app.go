package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/builtin"
	"github.com/mindzen-erp/mindzen/internal/cli/ui"
	"github.com/mindzen-erp/mindzen/internal/config"
	"github.com/mindzen-erp/mindzen/internal/engine"
	"github.com/mindzen-erp/mindzen/internal/journal"
	"github.com/mindzen-erp/mindzen/internal/logging"
)

// app is a booted kernel: an initialized engine with the built-in modules
// discovered and auto-installed
type app struct {
	cfg      *config.Config
	engine   *engine.Engine
	journal  journal.Sink
	recorder *journal.Recorder
	logger   *zap.Logger
}

type bootOptions struct {
	// record attaches the configured journal to the event bus
	record bool
}

// loadConfig loads the configuration and applies the flag overrides
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil && opts.logLevel != "" {
		err = cfg.Set("log.level", opts.logLevel)
	}
	if err == nil && opts.debug {
		err = cfg.Set("debug", true)
	}
	if err != nil {
		ui.ConfigError(err, opts.noColor).Write(cmd.ErrOrStderr())
		return nil, err
	}
	return cfg, nil
}

func boot(cmd *cobra.Command, opts *globalOptions, bo bootOptions) (*app, error) {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		ui.ConfigError(err, opts.noColor).Write(cmd.ErrOrStderr())
		return nil, err
	}

	if cfg.Modules.Path != "" && !cfg.ModulesPathExists() {
		ui.Message{
			Level:   ui.LevelWarning,
			Problem: fmt.Sprintf("modules.path %s is not a directory", cfg.Modules.Path),
			Detail:  "No modules will be discovered.",
			NoColor: opts.noColor,
		}.Write(cmd.ErrOrStderr())
	}

	eng := engine.New(
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithSource(builtin.Manifests()),
	)
	builtin.Register(eng.Catalog(), eng)

	if err := eng.Initialize(ctx, ""); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, engine: eng, logger: logger}

	if bo.record {
		sink, err := journal.Open(ctx, cfg)
		switch {
		case errors.Is(err, journal.ErrNoSink):
		case err != nil:
			return nil, fmt.Errorf("failed to open journal: %w", err)
		default:
			a.journal = sink
			a.recorder = journal.NewRecorder(sink, journal.WithLogger(logger.Named("journal")))
			if err := a.recorder.Attach(eng.Events()); err != nil {
				sink.Close()
				return nil, err
			}
		}
	}

	if err := eng.DiscoverModules(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if installed := eng.AutoInstall(ctx); len(installed) > 0 {
		logger.Info("Auto-installed modules", zap.Strings("modules", installed))
	}
	return a, nil
}

// close shuts the engine down, then releases the journal
func (a *app) close(ctx context.Context) {
	a.engine.Shutdown(ctx)

	if a.recorder != nil {
		a.recorder.Detach()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Error("Error closing journal", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
