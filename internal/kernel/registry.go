package kernel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/config"
	"github.com/mindzen-erp/mindzen/internal/hooks"
)

// RollbackPolicy decides what a failed install leaves behind
type RollbackPolicy string

const (
	// RollbackNone keeps every module installed before the failure,
	// including a module whose post-install callback failed
	RollbackNone RollbackPolicy = config.RollbackNone
	// RollbackDependencies uninstalls every module installed by the failed
	// call, in reverse install order
	RollbackDependencies RollbackPolicy = config.RollbackDependencies
)

// Record is an installed module
type Record struct {
	Metadata Metadata
	Module   Module
	// Source is the module's directory within the module source
	Source string
	// Sequence is 1 for the first module installed in this process and
	// increases with every install
	Sequence int
}

type available struct {
	meta   Metadata
	source string
}

// Registry discovers modules and manages their install lifecycle. It does
// no locking; callers serialize access.
type Registry struct {
	cfg      *config.Config
	source   fs.FS
	catalog  *Catalog
	hooks    *hooks.Manager
	rollback RollbackPolicy
	logger   *zap.Logger

	available map[string]available
	installed map[string]*Record
	order     []string
	sequence  int
}

// Option configures a Registry
type Option func(*Registry)

// WithSource sets the module source scanned by Discover, overriding
// modules.path from the configuration
func WithSource(fsys fs.FS) Option {
	return func(r *Registry) {
		r.source = fsys
	}
}

// WithCatalog sets the catalog module implementations are loaded from
func WithCatalog(c *Catalog) Option {
	return func(r *Registry) {
		r.catalog = c
	}
}

// WithRollback overrides modules.rollback from the configuration
func WithRollback(p RollbackPolicy) Option {
	return func(r *Registry) {
		r.rollback = p
	}
}

// WithLogger sets the registry logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry. Without WithSource, modules are read from
// the directory configured as modules.path.
func NewRegistry(cfg *config.Config, hookMgr *hooks.Manager, opts ...Option) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	if hookMgr == nil {
		hookMgr = hooks.NewManager()
	}

	r := &Registry{
		cfg:       cfg,
		catalog:   NewCatalog(),
		hooks:     hookMgr,
		rollback:  RollbackPolicy(cfg.Modules.Rollback),
		logger:    zap.NewNop(),
		available: make(map[string]available),
		installed: make(map[string]*Record),
	}
	if cfg.Modules.Path != "" {
		r.source = os.DirFS(cfg.Modules.Path)
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger.Info("Module registry initialized", zap.String("modules_path", cfg.Modules.Path), zap.String("rollback", string(r.rollback)))
	return r
}

// Discover scans the module source. Every top-level directory holding a
// manifest becomes an available module, unless the manifest marks it not
// installable. A directory with a broken manifest is logged and skipped.
// Installed modules keep the metadata they were installed with.
func (r *Registry) Discover(ctx context.Context) error {
	if r.source == nil {
		r.logger.Warn("No module source configured")
		return nil
	}

	entries, err := fs.ReadDir(r.source, ".")
	if err != nil {
		if isNotExist(err) {
			r.logger.Warn("Modules directory not found", zap.String("path", r.cfg.Modules.Path))
			return nil
		}
		return fmt.Errorf("failed to list modules: %w", err)
	}

	r.logger.Info("Scanning for modules...")

	found := 0
	claimed := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := entry.Name()

		meta, err := readManifest(r.source, dir)
		if err != nil {
			if errors.Is(err, ErrNoManifest) {
				r.logger.Debug("Skipping directory without manifest", zap.String("dir", dir))
			} else {
				r.logger.Error("Error loading manifest", zap.String("dir", dir), zap.Error(err))
			}
			continue
		}

		if !meta.Installable {
			r.logger.Debug("Skipping module - not installable", zap.String("module", meta.Name))
			continue
		}

		if other, dup := claimed[meta.Name]; dup {
			r.logger.Error("Duplicate module name, keeping first", zap.String("module", meta.Name), zap.String("dir", dir), zap.String("first_dir", other))
			continue
		}
		claimed[meta.Name] = dir

		if _, ok := r.installed[meta.Name]; ok {
			r.logger.Debug("Module already installed, keeping installed metadata", zap.String("module", meta.Name))
			found++
			continue
		}

		r.available[meta.Name] = available{meta: meta, source: dir}
		found++
		r.logger.Info("Found module", zap.String("module", meta.Name), zap.String("version", meta.Version))
	}

	r.logger.Info("Discovery complete", zap.Int("modules", found))
	return nil
}

// Install installs name after its dependencies, depth first in manifest
// order. Installing an installed module succeeds without doing anything.
// It reports false when the module is unknown, a dependency fails, or
// loading or post-install fails; see RollbackPolicy for what is kept.
func (r *Registry) Install(ctx context.Context, name string) bool {
	if _, ok := r.installed[name]; ok {
		r.logger.Warn("Module already installed", zap.String("module", name))
		return true
	}

	mark := len(r.order)
	if err := r.install(ctx, name, map[string]bool{}); err != nil {
		r.logger.Error("Failed to install module", zap.String("module", name), zap.Error(err))
		if r.rollback == RollbackDependencies {
			r.rollbackSince(ctx, mark)
		}
		return false
	}
	return true
}

func (r *Registry) install(ctx context.Context, name string, visiting map[string]bool) error {
	if _, ok := r.installed[name]; ok {
		return nil
	}

	avail, ok := r.available[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	if visiting[name] {
		return fmt.Errorf("%w: %s", ErrDependencyCycle, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range avail.meta.Depends {
		if _, ok := r.installed[dep]; ok {
			continue
		}
		r.logger.Info("Installing dependency", zap.String("module", name), zap.String("dependency", dep))
		if err := r.install(ctx, dep, visiting); err != nil {
			return fmt.Errorf("dependency %q of %q: %w", dep, name, err)
		}
	}

	return r.activate(ctx, avail)
}

// activate loads the implementation, registers its hooks, records it and
// runs its post-install callback. A panic anywhere in here fails the install.
func (r *Registry) activate(ctx context.Context, avail available) (err error) {
	name := avail.meta.Name
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("installing %q panicked: %v", name, p)
		}
	}()

	factory, ok := r.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoImplementation, name)
	}
	mod, err := factory()
	if err != nil {
		return fmt.Errorf("failed to load module %q: %w", name, err)
	}

	if hp, ok := mod.(HookProvider); ok {
		if source := hp.Hooks(); source != nil {
			r.hooks.RegisterModuleHooks(name, source)
			r.logger.Debug("Loaded hooks", zap.String("module", name))
		}
	}

	r.sequence++
	r.installed[name] = &Record{
		Metadata: avail.meta,
		Module:   mod,
		Source:   avail.source,
		Sequence: r.sequence,
	}
	r.order = append(r.order, name)

	if err := r.lifecycle(ctx, name, mod, hooks.PostInstall); err != nil {
		return fmt.Errorf("post_install of %q: %w", name, err)
	}

	r.logger.Info("Module installed", zap.String("module", name), zap.Int("sequence", r.sequence))
	return nil
}

// rollbackSince uninstalls the modules installed after position mark of
// the install order, newest first, ignoring dependents checks and
// pre-uninstall failures.
func (r *Registry) rollbackSince(ctx context.Context, mark int) {
	for i := len(r.order) - 1; i >= mark; i-- {
		name := r.order[i]
		rec := r.installed[name]
		if err := r.lifecycle(ctx, name, rec.Module, hooks.PreUninstall); err != nil {
			r.logger.Error("Error during rollback pre_uninstall", zap.String("module", name), zap.Error(err))
		}
		r.remove(name)
		r.logger.Warn("Rolled back module", zap.String("module", name))
	}
}

// Uninstall removes an installed module. It reports false, changing
// nothing, when the module is not installed, another installed module
// depends on it, or its pre-uninstall callback fails.
func (r *Registry) Uninstall(ctx context.Context, name string) bool {
	rec, ok := r.installed[name]
	if !ok {
		r.logger.Warn("Module not installed", zap.String("module", name))
		return false
	}

	if dependents := r.Dependents(name); len(dependents) > 0 {
		r.logger.Error("Cannot uninstall module - required by installed modules",
			zap.String("module", name), zap.Strings("required_by", dependents))
		return false
	}

	if err := r.lifecycle(ctx, name, rec.Module, hooks.PreUninstall); err != nil {
		r.logger.Error("Error uninstalling module", zap.String("module", name), zap.Error(err))
		return false
	}

	r.remove(name)
	r.logger.Info("Module uninstalled", zap.String("module", name))
	return true
}

// Dependents returns the installed modules that list name as a dependency,
// in install order. Uninstall refuses name while this is not empty.
func (r *Registry) Dependents(name string) []string {
	var out []string
	for _, other := range r.order {
		if other != name && r.installed[other].Metadata.DependsOn(name) {
			out = append(out, other)
		}
	}
	return out
}

func (r *Registry) remove(name string) {
	delete(r.installed, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.hooks.UnregisterModuleHooks(name)
}

// lifecycle runs one of the post_install, pre_uninstall or shutdown entry
// points of a module: the matching interface method when the
// implementation has one, otherwise the callback of that name in the
// module's hook source. Panics are returned as errors.
func (r *Registry) lifecycle(ctx context.Context, name string, mod Module, hook hooks.Name) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", hook, p)
		}
	}()

	switch hook {
	case hooks.PostInstall:
		if m, ok := mod.(PostInstaller); ok {
			return m.PostInstall(ctx)
		}
	case hooks.PreUninstall:
		if m, ok := mod.(PreUninstaller); ok {
			return m.PreUninstall(ctx)
		}
	case hooks.Shutdown:
		if m, ok := mod.(Shutdowner); ok {
			return m.Shutdown(ctx)
		}
	default:
		return fmt.Errorf("unknown lifecycle entry point %q", hook)
	}

	if fn, ok := r.hooks.ModuleHook(name, hook); ok {
		_, err := fn(ctx, hooks.Invocation{Hook: hook, Args: hooks.ModuleArgs(name)})
		return err
	}
	return nil
}

// ShutdownAll gives every installed module its shutdown call, newest
// first. A failing module is logged and does not stop the others.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.logger.Info("Shutting down all modules...", zap.Int("modules", len(r.order)))

	names := make([]string, len(r.order))
	copy(names, r.order)

	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		rec := r.installed[name]
		if err := r.lifecycle(ctx, name, rec.Module, hooks.Shutdown); err != nil {
			r.logger.Error("Error shutting down module", zap.String("module", name), zap.Error(err))
			continue
		}
		r.logger.Debug("Shutdown module", zap.String("module", name))
	}
}

// Installed returns the installed module names in install order
func (r *Registry) Installed() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Available returns the discovered module names, sorted
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.available))
	for name := range r.available {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsInstalled reports whether name is installed
func (r *Registry) IsInstalled(name string) bool {
	_, ok := r.installed[name]
	return ok
}

// Info returns the record of an installed module
func (r *Registry) Info(name string) (Record, bool) {
	rec, ok := r.installed[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Metadata returns the metadata of an available or installed module
func (r *Registry) Metadata(name string) (Metadata, bool) {
	if rec, ok := r.installed[name]; ok {
		return rec.Metadata, true
	}
	avail, ok := r.available[name]
	return avail.meta, ok
}

// AutoInstallCandidates returns the available, not yet installed modules
// whose manifest sets auto_install, sorted
func (r *Registry) AutoInstallCandidates() []string {
	var names []string
	for name, avail := range r.available {
		if avail.meta.AutoInstall && !r.IsInstalled(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Catalog returns the catalog implementations are loaded from
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
