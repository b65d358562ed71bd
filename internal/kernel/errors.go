package kernel

import "errors"

var (
	// ErrModuleNotFound is returned for names absent from the available set
	ErrModuleNotFound = errors.New("module not found")
	// ErrNoImplementation is returned when no factory is registered for a module
	ErrNoImplementation = errors.New("no implementation registered for module")
	// ErrDependencyCycle is returned when a module depends on itself transitively
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrNoManifest marks a module directory without a manifest
	ErrNoManifest = errors.New("no manifest")
)
