package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Rollback policies for failed module installs
const (
	RollbackNone         = "none"
	RollbackDependencies = "dependencies"
)

// Journal drivers
const (
	JournalNone   = "none"
	JournalSQLite = "sqlite"
	JournalRedis  = "redis"
)

// Config represents the kernel configuration
type Config struct {
	AppName string        `mapstructure:"app_name"`
	Version string        `mapstructure:"version"`
	Debug   bool          `mapstructure:"debug"`
	Log     LogConfig     `mapstructure:"log"`
	Modules ModulesConfig `mapstructure:"modules"`
	Journal JournalConfig `mapstructure:"journal"`
	Admin   AdminConfig   `mapstructure:"admin"`

	v *viper.Viper
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ModulesConfig represents module discovery and install configuration
type ModulesConfig struct {
	// Path is a directory of module manifests; empty means the built-in set
	Path        string   `mapstructure:"path"`
	AutoInstall []string `mapstructure:"auto_install"`
	Rollback    string   `mapstructure:"rollback"`
}

// JournalConfig represents the lifecycle journal configuration
type JournalConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// AdminConfig represents the admin HTTP server configuration
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads the configuration from path, or from mindzen.yml/mindzen.yaml
// in the working directory when path is empty. A missing default file is not
// an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mindzen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Enable environment variable support
	v.SetEnvPrefix("MINDZEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	return fromViper(v)
}

// Default returns the configuration made only of defaults
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := fromViper(v)
	if err != nil {
		// defaults are valid by construction
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "MindZen ERP")
	v.SetDefault("version", "0.1.0")
	v.SetDefault("debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("modules.path", "")
	v.SetDefault("modules.auto_install", []string{})
	v.SetDefault("modules.rollback", RollbackNone)
	v.SetDefault("journal.driver", JournalNone)
	v.SetDefault("journal.dsn", "mindzen_journal.db")
	v.SetDefault("journal.redis_addr", "localhost:6379")
	v.SetDefault("journal.redis_key", "mindzen:journal")
	v.SetDefault("admin.addr", ":8069")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.v = v

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns a configuration value by dotted key (e.g. "journal.driver").
// It returns nil for unknown keys.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value by dotted key as a string
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// Set overrides a configuration value by dotted key. The typed fields are
// refreshed so both views stay consistent.
func (c *Config) Set(key string, value interface{}) error {
	previous := c.v.Get(key)
	c.v.Set(key, value)
	next, err := fromViper(c.v)
	if err != nil {
		c.v.Set(key, previous)
		return err
	}
	*c = *next
	return nil
}

// ModulesPathExists reports whether the configured modules path is a directory
func (c *Config) ModulesPathExists() bool {
	if c.Modules.Path == "" {
		return false
	}
	info, err := os.Stat(c.Modules.Path)
	return err == nil && info.IsDir()
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Modules.Rollback {
	case RollbackNone, RollbackDependencies:
	default:
		return fmt.Errorf("modules.rollback must be %q or %q, got: %s", RollbackNone, RollbackDependencies, cfg.Modules.Rollback)
	}

	switch cfg.Journal.Driver {
	case JournalNone, JournalSQLite, JournalRedis:
	default:
		return fmt.Errorf("journal.driver must be one of none, sqlite, redis, got: %s", cfg.Journal.Driver)
	}

	if cfg.Journal.Driver == JournalRedis && cfg.Journal.RedisKey == "" {
		return fmt.Errorf("journal.redis_key must not be empty when journal.driver is redis")
	}
	return nil
}
