// Package kernel discovers business modules and manages their install
// lifecycle.
//
// A module is described by a manifest (manifest.json or manifest.yaml) in
// its own directory of the module source, and implemented by a factory
// registered in a Catalog at startup. The Registry installs a module only
// after all of its dependencies, refuses to uninstall a module that an
// installed module depends on, and registers the module's hooks with the
// hook manager.
//
// Per module name the lifecycle is:
//
//	unknown -> discovered -> installed -> (uninstalled -> discovered)
package kernel
