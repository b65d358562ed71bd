package kernel

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/events"
	"github.com/mindzen-erp/mindzen/internal/hooks"
)

// Module is a loaded module implementation. It may implement any of
// PostInstaller, PreUninstaller, Shutdowner and HookProvider.
type Module any

// PostInstaller is called once the module is recorded as installed
type PostInstaller interface {
	PostInstall(ctx context.Context) error
}

// PreUninstaller is called before the module is removed
type PreUninstaller interface {
	PreUninstall(ctx context.Context) error
}

// Shutdowner is called when the kernel shuts down
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// HookProvider exposes the module's hook source
type HookProvider interface {
	Hooks() hooks.Source
}

// Services is the part of the running kernel a module implementation may
// use. Modules reach each other only through these.
type Services interface {
	Events() *events.Bus
	Hooks() *hooks.Manager
	Logger() *zap.Logger
}

// Factory builds a module implementation
type Factory func() (Module, error)

// Catalog maps module names to statically linked factories. It replaces
// loading implementations by name at runtime: every module compiled into
// the binary registers itself during startup.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds the factory of module name. Registering a name twice is a
// programming error and panics.
func (c *Catalog) Register(name string, factory Factory) {
	if name == "" {
		panic("kernel: module factory registered without a name")
	}
	if factory == nil {
		panic(fmt.Sprintf("kernel: nil factory for module '%s'", name))
	}
	if _, exists := c.factories[name]; exists {
		panic(fmt.Sprintf("kernel: module factory '%s' already registered", name))
	}
	c.factories[name] = factory
}

// Lookup returns the factory of module name
func (c *Catalog) Lookup(name string) (Factory, bool) {
	f, ok := c.factories[name]
	return f, ok
}

// Names returns the registered module names, sorted
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
