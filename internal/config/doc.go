// Package config loads the kernel configuration from defaults, an optional
// YAML/JSON file and MINDZEN_* environment variables.
package config
