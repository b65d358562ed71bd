// Package builtin holds the modules compiled into the mindzen binary: their
// manifests, embedded as a module source, and their factories.
package builtin

import (
	"embed"
	"io/fs"

	"github.com/mindzen-erp/mindzen/internal/kernel"
	"github.com/mindzen-erp/mindzen/modules/crm"
	"github.com/mindzen-erp/mindzen/modules/finance"
	"github.com/mindzen-erp/mindzen/modules/inventory"
	"github.com/mindzen-erp/mindzen/modules/purchase"
	"github.com/mindzen-erp/mindzen/modules/sales"
)

//go:embed manifests
var manifests embed.FS

// coreModules is the definitive list of all modules that are compiled into
// the mindzen binary.
var coreModules = []struct {
	name string
	new  func(kernel.Services) kernel.Module
}{
	{crm.Name, func(s kernel.Services) kernel.Module { return crm.New(s) }},
	{sales.Name, func(s kernel.Services) kernel.Module { return sales.New(s) }},
	{inventory.Name, func(s kernel.Services) kernel.Module { return inventory.New(s) }},
	{purchase.Name, func(s kernel.Services) kernel.Module { return purchase.New(s) }},
	{finance.Name, func(s kernel.Services) kernel.Module { return finance.New(s) }},
}

// Manifests returns the module source of the built-in modules: one
// directory per module holding its manifest
func Manifests() fs.FS {
	sub, err := fs.Sub(manifests, "manifests")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return sub
}

// Register adds the factory of every built-in module to catalog. The
// factories run at install time, so svc may be an engine that is not
// initialized yet.
func Register(catalog *kernel.Catalog, svc kernel.Services) {
	for _, m := range coreModules {
		m := m
		catalog.Register(m.name, func() (kernel.Module, error) {
			return m.new(svc), nil
		})
	}
}
