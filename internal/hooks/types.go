package hooks

import (
	"context"
	"fmt"
)

// Name identifies an extension point
type Name string

// Well-known lifecycle hooks. RegisterModuleHooks registers these, and only
// these, from a module's hook source.
const (
	OnModuleInstalled   Name = "on_module_installed"
	OnModuleUninstalled Name = "on_module_uninstalled"
	PostInstall         Name = "post_install"
	PreUninstall        Name = "pre_uninstall"

	// Shutdown is looked up on demand and never auto-registered
	Shutdown Name = "shutdown"
)

// StandardHooks lists the auto-registered hooks in registration order
var StandardHooks = []Name{
	OnModuleInstalled,
	OnModuleUninstalled,
	PostInstall,
	PreUninstall,
}

// IsStandard reports whether name is auto-registered from hook sources
func IsStandard(name Name) bool {
	for _, std := range StandardHooks {
		if std == name {
			return true
		}
	}
	return false
}

// Args carries the named arguments of a hook invocation
type Args map[string]any

// ModuleArgs returns the arguments of the module lifecycle hooks
func ModuleArgs(module string) Args {
	return Args{"module": module}
}

// String returns the string argument key, or "" when absent or not a string
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Invocation is what a hook callback receives
type Invocation struct {
	Hook Name
	Args Args
}

// Module returns the "module" argument set by the lifecycle hooks
func (inv Invocation) Module() string {
	return inv.Args.String("module")
}

// Func is a hook callback. Its result is collected by Execute unless it
// returns an error.
type Func func(ctx context.Context, inv Invocation) (any, error)

// Source is the hook-providing unit of a module
type Source map[Name]Func

// ExecutedEvent is published after each Execute when the manager has a
// publisher
const ExecutedEvent = "hook.executed"

// ExecutedPayload describes a finished Execute call
type ExecutedPayload struct {
	Hook     Name
	Results  int
	Failures int
}

// Publisher is the part of the event bus the manager needs
type Publisher interface {
	Publish(ctx context.Context, event string, payload any)
}

// CallbackError wraps a failure raised by a single callback
type CallbackError struct {
	Hook  Name
	Index int
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("hook %s callback %d failed: %v", e.Hook, e.Index, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
