package kernel

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/viper"
)

// manifestFiles are tried in order in every module directory
var manifestFiles = []struct {
	name   string
	format string
}{
	{"manifest.json", "json"},
	{"manifest.yaml", "yaml"},
	{"manifest.yml", "yaml"},
}

// Metadata describes a module, as read from its manifest
type Metadata struct {
	Name        string   `mapstructure:"name" json:"name"`
	Version     string   `mapstructure:"version" json:"version"`
	Description string   `mapstructure:"description" json:"description"`
	Author      string   `mapstructure:"author" json:"author"`
	Depends     []string `mapstructure:"depends" json:"depends"`
	Category    string   `mapstructure:"category" json:"category"`
	Installable bool     `mapstructure:"installable" json:"installable"`
	AutoInstall bool     `mapstructure:"auto_install" json:"auto_install"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// DependsOn reports whether name is a direct dependency of the module
func (m Metadata) DependsOn(name string) bool {
	for _, dep := range m.Depends {
		if dep == name {
			return true
		}
	}
	return false
}

// ParseManifest decodes a manifest in the given format ("json" or "yaml").
// Absent fields take their defaults: version 0.1.0, category "other",
// installable true, auto_install false.
func ParseManifest(data []byte, format string) (Metadata, error) {
	v := viper.New()
	v.SetConfigType(format)

	v.SetDefault("version", "0.1.0")
	v.SetDefault("category", "other")
	v.SetDefault("installable", true)
	v.SetDefault("auto_install", false)
	v.SetDefault("depends", []string{})

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	var meta Metadata
	if err := v.Unmarshal(&meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if err := meta.validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m Metadata) validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest has no name")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("module %q has invalid version %q: %w", m.Name, m.Version, err)
	}
	for _, dep := range m.Depends {
		if dep == "" {
			return fmt.Errorf("module %q has an empty dependency name", m.Name)
		}
		if dep == m.Name {
			return fmt.Errorf("module %q depends on itself: %w", m.Name, ErrDependencyCycle)
		}
	}
	return nil
}

// readManifest loads the manifest of the module directory dir
func readManifest(fsys fs.FS, dir string) (Metadata, error) {
	for _, mf := range manifestFiles {
		data, err := fs.ReadFile(fsys, path.Join(dir, mf.name))
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return Metadata{}, err
		}
		return ParseManifest(data, mf.format)
	}
	return Metadata{}, ErrNoManifest
}
