// Package hooks implements named, ordered extension points.
//
// Unlike events, hooks return their callbacks' results to the caller, and
// can be executed conditionally on whether a module is installed:
//
//	results, ran := mgr.ExecuteConditional(ctx, "module_installed:inventory",
//		"inventory.create_picking", hooks.Args{"order": "SO001"})
package hooks

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const moduleInstalledPrefix = "module_installed:"

type callback struct {
	fn     Func
	module string
}

// Manager registers and executes hook callbacks
type Manager struct {
	hooks       map[Name][]callback
	moduleHooks map[string]Source
	publisher   Publisher
	logger      *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used to report callback failures
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPublisher makes every Execute publish an ExecutedEvent
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// NewManager creates an empty hook manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		hooks:       make(map[Name][]callback),
		moduleHooks: make(map[string]Source),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Debug("Hook manager initialized")
	return m
}

// Register appends fn to the callbacks of name
func (m *Manager) Register(name Name, fn Func) {
	m.register(name, fn, "")
}

func (m *Manager) register(name Name, fn Func, module string) {
	if fn == nil {
		return
	}
	m.hooks[name] = append(m.hooks[name], callback{fn: fn, module: module})
	m.logger.Debug("Registered hook", zap.String("hook", string(name)))
}

// RegisterFor appends fn to the callbacks of name on behalf of module.
// UnregisterModuleHooks(module) removes it.
func (m *Manager) RegisterFor(module string, name Name, fn Func) {
	m.register(name, fn, module)
}

// RegisterModuleHooks records source under module and registers the
// callbacks it provides for the standard lifecycle hooks. Other callbacks in
// source stay reachable through ModuleHook only.
func (m *Manager) RegisterModuleHooks(module string, source Source) {
	m.moduleHooks[module] = source

	for _, name := range StandardHooks {
		fn, ok := source[name]
		if !ok || fn == nil {
			continue
		}
		m.register(name, fn, module)
		m.logger.Debug("Registered module hook", zap.String("module", module), zap.String("hook", string(name)))
	}
	for name := range source {
		if !IsStandard(name) {
			m.logger.Debug("Module hook available for lookup only", zap.String("module", module), zap.String("hook", string(name)))
		}
	}
}

// UnregisterModuleHooks forgets the hook source of module and removes the
// callbacks registered from it or with RegisterFor. Callbacks added with
// Register are not affected.
func (m *Manager) UnregisterModuleHooks(module string) {
	if module == "" {
		return
	}
	delete(m.moduleHooks, module)

	for name, callbacks := range m.hooks {
		kept := callbacks[:0:0]
		for _, cb := range callbacks {
			if cb.module != module {
				kept = append(kept, cb)
			}
		}
		if len(kept) == 0 {
			delete(m.hooks, name)
		} else {
			m.hooks[name] = kept
		}
	}
	m.logger.Debug("Unregistered module hooks", zap.String("module", module))
}

// Execute runs every callback of name in registration order and returns
// the results of those that succeeded. Failing and panicking callbacks are
// logged and leave no entry in the results.
func (m *Manager) Execute(ctx context.Context, name Name, args Args) []any {
	callbacks := m.hooks[name]
	if len(callbacks) == 0 {
		m.logger.Debug("No callbacks for hook", zap.String("hook", string(name)))
		m.notify(ctx, name, 0, 0)
		return []any{}
	}

	m.logger.Debug("Executing hook", zap.String("hook", string(name)), zap.Int("callbacks", len(callbacks)))

	// Callbacks registered while executing run on the next Execute
	snapshot := make([]callback, len(callbacks))
	copy(snapshot, callbacks)

	inv := Invocation{Hook: name, Args: args}
	if inv.Args == nil {
		inv.Args = Args{}
	}

	results := make([]any, 0, len(snapshot))
	failures := 0
	for i, cb := range snapshot {
		result, err := call(ctx, cb.fn, inv)
		if err != nil {
			failures++
			m.logger.Error("Error executing hook", zap.Error(&CallbackError{Hook: name, Index: i, Err: err}))
			continue
		}
		results = append(results, result)
	}

	m.notify(ctx, name, len(results), failures)
	return results
}

func call(ctx context.Context, fn Func, inv Invocation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, inv)
}

func (m *Manager) notify(ctx context.Context, name Name, results, failures int) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, ExecutedEvent, ExecutedPayload{Hook: name, Results: results, Failures: failures})
}

// CheckCondition evaluates a hook condition. The only supported form is
// "module_installed:<name>", true when the hooks of <name> are registered.
// Any other condition is false.
func (m *Manager) CheckCondition(condition string) bool {
	if !strings.HasPrefix(condition, moduleInstalledPrefix) {
		return false
	}
	module := strings.TrimSpace(strings.TrimPrefix(condition, moduleInstalledPrefix))
	_, ok := m.moduleHooks[module]
	return ok
}

// ExecuteConditional executes name only when condition holds. The boolean
// is false when execution was skipped, which is distinct from an execution
// that produced no results.
func (m *Manager) ExecuteConditional(ctx context.Context, condition string, name Name, args Args) ([]any, bool) {
	if !m.CheckCondition(condition) {
		m.logger.Debug("Condition not met, skipping hook", zap.String("condition", condition), zap.String("hook", string(name)))
		return nil, false
	}
	m.logger.Debug("Condition met, executing hook", zap.String("condition", condition), zap.String("hook", string(name)))
	return m.Execute(ctx, name, args), true
}

// ModuleHook returns the callback name from the hook source of module
func (m *Manager) ModuleHook(module string, name Name) (Func, bool) {
	source, ok := m.moduleHooks[module]
	if !ok {
		return nil, false
	}
	fn, ok := source[name]
	if !ok || fn == nil {
		return nil, false
	}
	return fn, true
}

// Clear drops the callbacks of name
func (m *Manager) Clear(name Name) {
	if _, ok := m.hooks[name]; ok {
		delete(m.hooks, name)
		m.logger.Debug("Cleared hook", zap.String("hook", string(name)))
	}
}

// ClearAll drops every registered callback. Recorded module sources are
// kept; they track installation, not registration.
func (m *Manager) ClearAll() {
	m.hooks = make(map[Name][]callback)
	m.logger.Debug("Cleared all hooks")
}

// Count returns the number of callbacks registered for name
func (m *Manager) Count(name Name) int {
	return len(m.hooks[name])
}
