package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version this build reads.
const CurrentVersion = 1

// DirName is the directory holding config.json and the table store.
const DirName = ".splashguard"

// EnvPrefix prefixes environment overrides, e.g. SPLASHGUARD_LOGGING_LEVEL.
const EnvPrefix = "SPLASHGUARD"

// Config represents the complete splashguard configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Integration IntegrationConfig `json:"integration" mapstructure:"integration"`
	Cache       CacheConfig       `json:"cache" mapstructure:"cache"`
	Fallback    FallbackConfig    `json:"fallback" mapstructure:"fallback"`
	Dex         DexConfig         `json:"dex" mapstructure:"dex"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// IntegrationConfig selects the host package the integration runs for
type IntegrationConfig struct {
	// PackageName is compared with the host package; empty means the integration default.
	PackageName string `json:"packageName" mapstructure:"packageName"`
}

// CacheConfig contains resolution cache configuration
type CacheConfig struct {
	Persist bool `json:"persist" mapstructure:"persist"`
	// Path is the table store directory, relative to the config root when not absolute.
	Path string `json:"path" mapstructure:"path"`
}

// FallbackConfig overrides the direct and pattern tier targets
type FallbackConfig struct {
	DirectOwner     string   `json:"directOwner" mapstructure:"directOwner"`
	DirectMember    string   `json:"directMember" mapstructure:"directMember"`
	PatternPrefixes []string `json:"patternPrefixes" mapstructure:"patternPrefixes"`
}

// DexConfig contains DEX loading configuration
type DexConfig struct {
	RefCacheSize int `json:"refCacheSize" mapstructure:"refCacheSize"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
	// File additionally receives line-format logs when set. Relative paths
	// resolve against the config directory.
	File       string `json:"file,omitempty" mapstructure:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Cache: CacheConfig{
			Persist: true,
			Path:    ".",
		},
		Dex: DexConfig{
			RefCacheSize: 4096,
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from <root>/.splashguard/config.{json,yaml,toml}
// with SPLASHGUARD_* environment overrides.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("version", def.Version)
	v.SetDefault("integration.packageName", def.Integration.PackageName)
	v.SetDefault("cache.persist", def.Cache.Persist)
	v.SetDefault("cache.path", def.Cache.Path)
	v.SetDefault("fallback.directOwner", def.Fallback.DirectOwner)
	v.SetDefault("fallback.directMember", def.Fallback.DirectMember)
	v.SetDefault("fallback.patternPrefixes", def.Fallback.PatternPrefixes)
	v.SetDefault("dex.refCacheSize", def.Dex.RefCacheSize)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.maxSize", def.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", def.Logging.MaxBackups)

	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(root, DirName))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to <root>/.splashguard/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// StorePath resolves the table store directory against root.
func (c *Config) StorePath(root string) string {
	if filepath.IsAbs(c.Cache.Path) {
		return c.Cache.Path
	}
	return filepath.Join(root, DirName, c.Cache.Path)
}

// LogPath resolves the log file against root, or returns "" when file
// logging is off.
func (c *Config) LogPath(root string) string {
	if c.Logging.File == "" || filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(root, DirName, c.Logging.File)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if (c.Fallback.DirectOwner == "") != (c.Fallback.DirectMember == "") {
		return &ConfigError{Field: "fallback", Message: "directOwner and directMember must be set together"}
	}
	for _, p := range c.Fallback.PatternPrefixes {
		if strings.TrimSpace(p) == "" {
			return &ConfigError{Field: "fallback.patternPrefixes", Message: "empty prefix"}
		}
	}
	if c.Dex.RefCacheSize < 0 {
		return &ConfigError{Field: "dex.refCacheSize", Message: "must not be negative"}
	}
	if c.Logging.MaxBackups < 0 {
		return &ConfigError{Field: "logging.maxBackups", Message: "must not be negative"}
	}
	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be human or json"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
