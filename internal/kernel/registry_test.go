package kernel

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mindzen-erp/mindzen/internal/config"
	"github.com/mindzen-erp/mindzen/internal/hooks"
)

// journal records lifecycle calls across test modules
type journal struct {
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

type testModule struct {
	name         string
	log          *journal
	postErr      error
	preErr       error
	shutdownErr  error
	shutdownPnc  bool
	hookSource   hooks.Source
	withoutHooks bool
}

func (m *testModule) PostInstall(ctx context.Context) error {
	m.log.add("post_install:%s", m.name)
	return m.postErr
}

func (m *testModule) PreUninstall(ctx context.Context) error {
	m.log.add("pre_uninstall:%s", m.name)
	return m.preErr
}

func (m *testModule) Shutdown(ctx context.Context) error {
	m.log.add("shutdown:%s", m.name)
	if m.shutdownPnc {
		panic("shutdown exploded")
	}
	return m.shutdownErr
}

func (m *testModule) Hooks() hooks.Source {
	if m.withoutHooks {
		return nil
	}
	if m.hookSource != nil {
		return m.hookSource
	}
	return hooks.Source{}
}

func manifest(name string, depends ...string) *fstest.MapFile {
	deps := "[]"
	if len(depends) > 0 {
		deps = `["` + depends[0]
		for _, d := range depends[1:] {
			deps += `", "` + d
		}
		deps += `"]`
	}
	return &fstest.MapFile{Data: []byte(fmt.Sprintf(`{"name": %q, "version": "1.0.0", "depends": %s}`, name, deps))}
}

type fixture struct {
	reg     *Registry
	hooks   *hooks.Manager
	catalog *Catalog
	log     *journal
	modules map[string]*testModule
	logs    *observer.ObservedLogs
}

// newFixture builds a registry over fsys with a testModule registered for
// every name in names
func newFixture(t *testing.T, fsys fstest.MapFS, names []string, opts ...Option) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		hooks:   hooks.NewManager(),
		catalog: NewCatalog(),
		log:     &journal{},
		modules: make(map[string]*testModule),
		logs:    logs,
	}
	for _, name := range names {
		mod := &testModule{name: name, log: f.log}
		f.modules[name] = mod
		f.catalog.Register(name, func() (Module, error) { return mod, nil })
	}

	opts = append([]Option{WithSource(fsys), WithCatalog(f.catalog), WithLogger(zap.New(core))}, opts...)
	f.reg = NewRegistry(config.Default(), f.hooks, opts...)
	require.NoError(t, f.reg.Discover(context.Background()))
	return f
}

func crmSalesFS() fstest.MapFS {
	return fstest.MapFS{
		"crm/manifest.json":   manifest("crm"),
		"sales/manifest.json": manifest("sales", "crm"),
	}
}

func TestDiscover(t *testing.T) {
	fsys := fstest.MapFS{
		"crm/manifest.json":        manifest("crm"),
		"sales/manifest.yaml":      {Data: []byte("name: sales\ndepends: [crm]\ndescription: Sales orders\n")},
		"legacy/manifest.json":     {Data: []byte(`{"name": "legacy", "installable": false}`)},
		"broken/manifest.json":     {Data: []byte(`{"name": "broken",`)},
		"badver/manifest.json":     {Data: []byte(`{"name": "badver", "version": "one"}`)},
		"nameless/manifest.json":   {Data: []byte(`{"version": "1.0.0"}`)},
		"assets/logo.png":          {Data: []byte{0x89}},
		"README.md":                {Data: []byte("# modules")},
		"duplicate/manifest.json":  manifest("crm"),
		"selfish/manifest.json":    manifest("selfish", "selfish"),
		"inventory/manifest.json":  manifest("inventory"),
		"inventory/models/item.go": {Data: []byte("package models")},
	}

	f := newFixture(t, fsys, nil)

	assert.Equal(t, []string{"crm", "inventory", "sales"}, f.reg.Available())

	sales, ok := f.reg.Metadata("sales")
	require.True(t, ok)
	assert.Equal(t, "0.1.0", sales.Version, "default version")
	assert.Equal(t, "other", sales.Category, "default category")
	assert.True(t, sales.Installable)
	assert.False(t, sales.AutoInstall)
	assert.Equal(t, []string{"crm"}, sales.Depends)
	assert.Equal(t, "Sales orders", sales.Description)

	// crm is claimed by crm/ before duplicate/ in directory order
	assert.Equal(t, 1, f.logs.FilterMessage("Duplicate module name, keeping first").Len())
	assert.Equal(t, 4, f.logs.FilterMessage("Error loading manifest").Len())
}

func TestDiscover_MissingSource(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Set("modules.path", t.TempDir()+"/missing"))

	reg := NewRegistry(cfg, nil)
	assert.NoError(t, reg.Discover(context.Background()))
	assert.Empty(t, reg.Available())

	reg = NewRegistry(config.Default(), nil)
	assert.NoError(t, reg.Discover(context.Background()))
}

func TestDiscover_DoesNotTouchInstalledModules(t *testing.T) {
	fsys := crmSalesFS()
	f := newFixture(t, fsys, []string{"crm", "sales"})
	require.True(t, f.reg.Install(context.Background(), "crm"))

	fsys["crm/manifest.json"] = &fstest.MapFile{Data: []byte(`{"name": "crm", "version": "2.0.0"}`)}
	require.NoError(t, f.reg.Discover(context.Background()))

	rec, ok := f.reg.Info("crm")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", rec.Metadata.Version)
}

func TestInstall_DependenciesFirst(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})

	require.True(t, f.reg.Install(context.Background(), "sales"))

	assert.Equal(t, []string{"crm", "sales"}, f.reg.Installed())
	assert.Equal(t, []string{"post_install:crm", "post_install:sales"}, f.log.calls)

	crm, _ := f.reg.Info("crm")
	sales, _ := f.reg.Info("sales")
	assert.Less(t, crm.Sequence, sales.Sequence)
	assert.Equal(t, "sales", sales.Source)
	assert.Same(t, f.modules["sales"], sales.Module)
}

func TestInstall_DependencyListOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"base/manifest.json":      manifest("base"),
		"product/manifest.json":   manifest("product", "base"),
		"partner/manifest.json":   manifest("partner", "base"),
		"sales/manifest.json":     manifest("sales", "partner", "product"),
		"inventory/manifest.json": manifest("inventory", "product"),
	}
	f := newFixture(t, fsys, []string{"base", "product", "partner", "sales", "inventory"})

	require.True(t, f.reg.Install(context.Background(), "sales"))
	require.True(t, f.reg.Install(context.Background(), "inventory"))

	assert.Equal(t, []string{"base", "partner", "product", "sales", "inventory"}, f.reg.Installed())
}

func TestInstall_Idempotent(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})

	assert.True(t, f.reg.Install(context.Background(), "crm"))
	assert.True(t, f.reg.Install(context.Background(), "crm"))

	assert.Equal(t, []string{"crm"}, f.reg.Installed())
	assert.Equal(t, []string{"post_install:crm"}, f.log.calls)
}

func TestInstall_NotFound(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})

	assert.False(t, f.reg.Install(context.Background(), "payroll"))
	assert.Empty(t, f.reg.Installed())
}

func TestInstall_DependencyFailureAbortsDependent(t *testing.T) {
	fsys := fstest.MapFS{
		"base/manifest.json":  manifest("base"),
		"crm/manifest.json":   manifest("crm", "base"),
		"sales/manifest.json": manifest("sales", "crm"),
	}
	f := newFixture(t, fsys, []string{"base", "crm", "sales"})
	f.modules["crm"].postErr = errors.New("pipeline setup failed")

	assert.False(t, f.reg.Install(context.Background(), "sales"))

	assert.False(t, f.reg.IsInstalled("sales"))
	assert.True(t, f.reg.IsInstalled("base"), "successful dependencies are not rolled back")
	assert.True(t, f.reg.IsInstalled("crm"), "state after a failed post_install is not rolled back")
	assert.NotContains(t, f.log.calls, "post_install:sales")
}

func TestInstall_MissingDependency(t *testing.T) {
	fsys := fstest.MapFS{
		"sales/manifest.json": manifest("sales", "crm"),
	}
	f := newFixture(t, fsys, []string{"sales"})

	assert.False(t, f.reg.Install(context.Background(), "sales"))
	assert.Empty(t, f.reg.Installed())

	entries := f.logs.FilterMessage("Failed to install module").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "module not found: crm")
}

func TestInstall_NoImplementation(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm"})

	assert.False(t, f.reg.Install(context.Background(), "sales"))
	assert.Equal(t, []string{"crm"}, f.reg.Installed())
}

func TestInstall_FactoryErrorAndPanic(t *testing.T) {
	f := newFixture(t, crmSalesFS(), nil)
	f.catalog.Register("crm", func() (Module, error) { return nil, errors.New("no database") })
	f.catalog.Register("sales", func() (Module, error) { panic("init order") })

	assert.False(t, f.reg.Install(context.Background(), "crm"))
	assert.False(t, f.reg.IsInstalled("crm"))

	f.catalog.factories["crm"] = func() (Module, error) { return struct{}{}, nil }
	assert.False(t, f.reg.Install(context.Background(), "sales"))
	assert.True(t, f.reg.IsInstalled("crm"))
	assert.False(t, f.reg.IsInstalled("sales"))
}

func TestInstall_DependencyCycle(t *testing.T) {
	fsys := fstest.MapFS{
		"a/manifest.json": manifest("a", "b"),
		"b/manifest.json": manifest("b", "c"),
		"c/manifest.json": manifest("c", "a"),
	}
	f := newFixture(t, fsys, []string{"a", "b", "c"})

	assert.False(t, f.reg.Install(context.Background(), "a"))
	assert.Empty(t, f.reg.Installed())

	entries := f.logs.FilterMessage("Failed to install module").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], ErrDependencyCycle.Error())
}

func TestInstall_RollbackDependencies(t *testing.T) {
	fsys := fstest.MapFS{
		"base/manifest.json":  manifest("base"),
		"crm/manifest.json":   manifest("crm", "base"),
		"sales/manifest.json": manifest("sales", "crm"),
		"hr/manifest.json":    manifest("hr"),
	}
	f := newFixture(t, fsys, []string{"base", "crm", "sales", "hr"}, WithRollback(RollbackDependencies))
	require.True(t, f.reg.Install(context.Background(), "hr"))
	f.modules["sales"].postErr = errors.New("boom")

	assert.False(t, f.reg.Install(context.Background(), "sales"))

	assert.Equal(t, []string{"hr"}, f.reg.Installed())
	assert.Equal(t, []string{
		"post_install:hr",
		"post_install:base",
		"post_install:crm",
		"post_install:sales",
		"pre_uninstall:sales",
		"pre_uninstall:crm",
		"pre_uninstall:base",
	}, f.log.calls)
	assert.False(t, f.hooks.CheckCondition("module_installed:crm"))
}

func TestInstall_RollbackPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Set("modules.rollback", config.RollbackDependencies))

	reg := NewRegistry(cfg, nil)
	assert.Equal(t, RollbackDependencies, reg.rollback)
}

func TestInstall_RegistersHooks(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})
	f.modules["crm"].hookSource = hooks.Source{
		hooks.OnModuleInstalled: func(ctx context.Context, inv hooks.Invocation) (any, error) {
			return "crm saw " + inv.Module(), nil
		},
	}
	f.modules["sales"].withoutHooks = true

	require.True(t, f.reg.Install(context.Background(), "sales"))

	assert.True(t, f.hooks.CheckCondition("module_installed:crm"))
	assert.False(t, f.hooks.CheckCondition("module_installed:sales"), "sales has no hook source")

	results := f.hooks.Execute(context.Background(), hooks.OnModuleInstalled, hooks.ModuleArgs("sales"))
	assert.Equal(t, []any{"crm saw sales"}, results)
}

func TestCheckCondition_FollowsLifecycle(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})

	assert.False(t, f.hooks.CheckCondition("module_installed:crm"))
	require.True(t, f.reg.Install(context.Background(), "crm"))
	assert.True(t, f.hooks.CheckCondition("module_installed:crm"))
	require.True(t, f.reg.Uninstall(context.Background(), "crm"))
	assert.False(t, f.hooks.CheckCondition("module_installed:crm"))
}

func TestUninstall_BlockedByInstalledDependent(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})
	require.True(t, f.reg.Install(context.Background(), "sales"))

	assert.Equal(t, []string{"sales"}, f.reg.Dependents("crm"))
	assert.Empty(t, f.reg.Dependents("sales"))

	assert.False(t, f.reg.Uninstall(context.Background(), "crm"))
	assert.True(t, f.reg.IsInstalled("crm"))
	assert.NotContains(t, f.log.calls, "pre_uninstall:crm")

	assert.True(t, f.reg.Uninstall(context.Background(), "sales"))
	assert.True(t, f.reg.Uninstall(context.Background(), "crm"))
	assert.Empty(t, f.reg.Installed())
	assert.Equal(t, []string{"crm", "sales"}, f.reg.Available(), "uninstalled modules stay discovered")
}

func TestUninstall_NotInstalled(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})

	assert.False(t, f.reg.Uninstall(context.Background(), "crm"))
	assert.False(t, f.reg.Uninstall(context.Background(), "payroll"))
}

func TestUninstall_PreUninstallFailureKeepsModule(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})
	require.True(t, f.reg.Install(context.Background(), "crm"))
	f.modules["crm"].preErr = errors.New("open leads")

	assert.False(t, f.reg.Uninstall(context.Background(), "crm"))
	assert.True(t, f.reg.IsInstalled("crm"))
	assert.True(t, f.hooks.CheckCondition("module_installed:crm"))
}

func TestUninstall_Reinstall(t *testing.T) {
	f := newFixture(t, crmSalesFS(), []string{"crm", "sales"})
	require.True(t, f.reg.Install(context.Background(), "crm"))
	require.True(t, f.reg.Uninstall(context.Background(), "crm"))
	require.True(t, f.reg.Install(context.Background(), "crm"))

	rec, ok := f.reg.Info("crm")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Sequence)
}

func TestShutdownAll_IsolatesFailures(t *testing.T) {
	fsys := fstest.MapFS{
		"crm/manifest.json":       manifest("crm"),
		"sales/manifest.json":     manifest("sales"),
		"inventory/manifest.json": manifest("inventory"),
	}
	f := newFixture(t, fsys, []string{"crm", "sales", "inventory"})
	for _, name := range []string{"crm", "sales", "inventory"} {
		require.True(t, f.reg.Install(context.Background(), name))
	}
	f.log.calls = nil
	f.modules["sales"].shutdownPnc = true

	assert.NotPanics(t, func() {
		f.reg.ShutdownAll(context.Background())
	})

	assert.ElementsMatch(t, []string{"shutdown:crm", "shutdown:sales", "shutdown:inventory"}, f.log.calls)
	assert.Equal(t, 1, f.logs.FilterMessage("Error shutting down module").Len())

	f.log.calls = nil
	f.modules["sales"].shutdownPnc = false
	f.modules["sales"].shutdownErr = errors.New("flush failed")
	f.reg.ShutdownAll(context.Background())
	assert.Len(t, f.log.calls, 3)
}

// hookOnly implements no lifecycle interface; its entry points come from
// its hook source
type hookOnly struct {
	source hooks.Source
}

func (h *hookOnly) Hooks() hooks.Source { return h.source }

func TestLifecycle_FallsBackToHookSource(t *testing.T) {
	f := newFixture(t, crmSalesFS(), nil)
	var calls []string
	record := func(ctx context.Context, inv hooks.Invocation) (any, error) {
		calls = append(calls, string(inv.Hook)+":"+inv.Module())
		return nil, nil
	}
	f.catalog.Register("crm", func() (Module, error) {
		return &hookOnly{source: hooks.Source{
			hooks.PostInstall:  record,
			hooks.PreUninstall: record,
			hooks.Shutdown:     record,
		}}, nil
	})

	require.True(t, f.reg.Install(context.Background(), "crm"))
	f.reg.ShutdownAll(context.Background())
	require.True(t, f.reg.Uninstall(context.Background(), "crm"))

	assert.Equal(t, []string{"post_install:crm", "shutdown:crm", "pre_uninstall:crm"}, calls)
}

func TestAutoInstallCandidates(t *testing.T) {
	fsys := fstest.MapFS{
		"base/manifest.json": {Data: []byte(`{"name": "base", "auto_install": true}`)},
		"web/manifest.json":  {Data: []byte(`{"name": "web", "auto_install": true}`)},
		"crm/manifest.json":  manifest("crm"),
	}
	f := newFixture(t, fsys, []string{"base", "web", "crm"})

	assert.Equal(t, []string{"base", "web"}, f.reg.AutoInstallCandidates())

	require.True(t, f.reg.Install(context.Background(), "web"))
	assert.Equal(t, []string{"base"}, f.reg.AutoInstallCandidates())
}
