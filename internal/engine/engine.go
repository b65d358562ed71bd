// Package engine is the kernel's composition root.
//
// An Engine owns the configuration, the event bus, the hook manager and the
// module registry. Construct exactly one per process and pass it to the
// code that needs it:
//
//	eng := engine.New(engine.WithCatalog(catalog), engine.WithSource(manifests))
//	if err := eng.Initialize(ctx, ""); err != nil { ... }
//	eng.DiscoverModules(ctx)
//	eng.InstallModule(ctx, "sales")
//	defer eng.Shutdown(ctx)
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/config"
	"github.com/mindzen-erp/mindzen/internal/events"
	"github.com/mindzen-erp/mindzen/internal/hooks"
	"github.com/mindzen-erp/mindzen/internal/kernel"
)

// ErrNotInitialized is the panic value of lifecycle calls made before
// Initialize
var ErrNotInitialized = errors.New("engine not initialized, call Initialize first")

var _ kernel.Services = (*Engine)(nil)

// Engine coordinates the kernel services
type Engine struct {
	initialized bool

	cfg     *config.Config
	events  *events.Bus
	hooks   *hooks.Manager
	modules *kernel.Registry

	catalog *kernel.Catalog
	source  fs.FS
	logger  *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger handed to every component
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCatalog sets the module implementations available to install
func WithCatalog(c *kernel.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithSource sets the module source used when modules.path is not configured
func WithSource(fsys fs.FS) Option {
	return func(e *Engine) {
		e.source = fsys
	}
}

// WithConfig makes Initialize use cfg instead of loading configuration
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// New creates an uninitialized engine
func New(opts ...Option) *Engine {
	e := &Engine{
		catalog: kernel.NewCatalog(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize loads the configuration from configPath (see config.Load) and
// builds the event bus, the hook manager and the module registry. Calling it
// again logs a warning and does nothing.
func (e *Engine) Initialize(ctx context.Context, configPath string) error {
	if e.initialized {
		e.logger.Warn("Engine already initialized")
		return nil
	}

	e.logger.Info("Starting engine initialization...")

	cfg := e.cfg
	if cfg == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize engine: %w", err)
		}
		cfg = loaded
	}
	e.cfg = cfg
	e.logger.Info("Configuration loaded", zap.String("app", cfg.AppName))

	e.events = events.NewBus(events.WithLogger(e.logger.Named("events")))

	hookOpts := []hooks.Option{hooks.WithLogger(e.logger.Named("hooks"))}
	if cfg.Debug {
		hookOpts = append(hookOpts, hooks.WithPublisher(e.events))
	}
	e.hooks = hooks.NewManager(hookOpts...)

	regOpts := []kernel.Option{
		kernel.WithCatalog(e.catalog),
		kernel.WithLogger(e.logger.Named("modules")),
	}
	if cfg.Modules.Path == "" && e.source != nil {
		regOpts = append(regOpts, kernel.WithSource(e.source))
	}
	e.modules = kernel.NewRegistry(cfg, e.hooks, regOpts...)

	e.initialized = true
	e.logger.Info("Engine initialization complete")
	return nil
}

func (e *Engine) mustBeInitialized() {
	if !e.initialized {
		panic(ErrNotInitialized)
	}
}

// DiscoverModules scans the module source for installable modules
func (e *Engine) DiscoverModules(ctx context.Context) error {
	e.mustBeInitialized()

	e.logger.Info("Discovering modules...")
	if err := e.modules.Discover(ctx); err != nil {
		return err
	}
	e.logger.Info("Modules discovered", zap.Int("available", len(e.modules.Available())))

	for _, name := range e.catalog.Names() {
		if _, ok := e.modules.Metadata(name); !ok {
			e.logger.Debug("Module implementation has no discovered manifest", zap.String("module", name))
		}
	}
	return nil
}

// InstallModule installs name and its dependencies. On success it runs the
// on_module_installed hook and then publishes module.installed for every
// dependency this call installed, in install order, and finally for name.
// Installing sales on a fresh engine therefore announces crm before sales;
// installing an installed module announces it again.
func (e *Engine) InstallModule(ctx context.Context, name string) bool {
	e.mustBeInitialized()

	e.logger.Info("Installing module", zap.String("module", name))
	before := len(e.modules.Installed())
	if !e.modules.Install(ctx, name) {
		e.logger.Error("Failed to install module", zap.String("module", name))
		return false
	}

	for _, installed := range newlyInstalled(e.modules.Installed(), before, name) {
		e.hooks.Execute(ctx, hooks.OnModuleInstalled, hooks.ModuleArgs(installed))
		e.events.Publish(ctx, events.ModuleInstalled, events.ModulePayload{Module: installed})
	}

	e.logger.Info("Module installed successfully", zap.String("module", name))
	return true
}

// UninstallModule uninstalls name. On success it runs the
// on_module_uninstalled hook, then publishes module.uninstalled.
func (e *Engine) UninstallModule(ctx context.Context, name string) bool {
	e.mustBeInitialized()

	e.logger.Info("Uninstalling module", zap.String("module", name))
	if !e.modules.Uninstall(ctx, name) {
		e.logger.Error("Failed to uninstall module", zap.String("module", name))
		return false
	}

	e.hooks.Execute(ctx, hooks.OnModuleUninstalled, hooks.ModuleArgs(name))
	e.events.Publish(ctx, events.ModuleUninstalled, events.ModulePayload{Module: name})
	e.logger.Info("Module uninstalled successfully", zap.String("module", name))
	return true
}

// newlyInstalled returns the modules appended to installed after its first
// before entries, with name last
func newlyInstalled(installed []string, before int, name string) []string {
	var out []string
	for _, m := range installed[before:] {
		if m != name {
			out = append(out, m)
		}
	}
	return append(out, name)
}

// AutoInstall installs the modules listed in modules.auto_install, then the
// discovered modules whose manifest sets auto_install. It returns the
// modules it installed successfully, in that order. Nothing calls it
// implicitly.
func (e *Engine) AutoInstall(ctx context.Context) []string {
	e.mustBeInitialized()

	var names []string
	seen := make(map[string]bool)
	for _, name := range append(append([]string{}, e.cfg.Modules.AutoInstall...), e.modules.AutoInstallCandidates()...) {
		if seen[name] || e.modules.IsInstalled(name) {
			continue
		}
		seen[name] = true
		if e.InstallModule(ctx, name) {
			names = append(names, name)
		}
	}
	return names
}

// InstalledModules returns the installed module names in install order
func (e *Engine) InstalledModules() []string {
	e.mustBeInitialized()
	return e.modules.Installed()
}

// AvailableModules returns the discovered module names, sorted
func (e *Engine) AvailableModules() []string {
	e.mustBeInitialized()
	return e.modules.Available()
}

// Shutdown shuts every installed module down, then publishes
// engine.shutdown. It is safe to call on an uninitialized engine.
func (e *Engine) Shutdown(ctx context.Context) {
	e.logger.Info("Shutting down engine...")

	if e.modules != nil {
		e.modules.ShutdownAll(ctx)
	}
	if e.events != nil {
		e.events.Publish(ctx, events.EngineShutdown, events.ShutdownPayload{})
	}

	e.logger.Info("Engine shutdown complete")
}

// IsInitialized reports whether Initialize has completed
func (e *Engine) IsInitialized() bool {
	return e.initialized
}

// Config returns the configuration, nil before Initialize
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Events returns the event bus, nil before Initialize
func (e *Engine) Events() *events.Bus {
	return e.events
}

// Hooks returns the hook manager, nil before Initialize
func (e *Engine) Hooks() *hooks.Manager {
	return e.hooks
}

// Catalog returns the catalog module implementations are loaded from.
// Register factories before installing modules.
func (e *Engine) Catalog() *kernel.Catalog {
	return e.catalog
}

// Logger returns the engine logger
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// Registry returns the module registry, nil before Initialize
func (e *Engine) Registry() *kernel.Registry {
	return e.modules
}

func (e *Engine) String() string {
	if e.initialized {
		return "<Engine (initialized)>"
	}
	return "<Engine (not initialized)>"
}
