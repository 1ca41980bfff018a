package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the dialogue server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Flow      FlowConfig      `yaml:"flow"`
	Strings   StringsConfig   `yaml:"strings"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SecurityToken string `yaml:"securityToken"`
	// OwnerIdentity is the identity hash allowed to edit permissions and
	// request admin logins.
	OwnerIdentity string `yaml:"ownerIdentity"`
	Debug         bool   `yaml:"debug"`
	LogLevel      string `yaml:"logLevel"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type FlowConfig struct {
	// Path of the imported dialogue graph (design-tool export, parsed).
	Path string `yaml:"path"`
	// Watch reloads the graph when the file changes on disk, in addition
	// to the explicit reload endpoint.
	Watch bool `yaml:"watch"`
}

type StringsConfig struct {
	Path string `yaml:"path"`
	// CacheTTLMinutes bounds the per-language in-memory cache.
	CacheTTLMinutes int `yaml:"cacheTtlMinutes"`
}

type EngineConfig struct {
	QueueSize int `yaml:"queueSize"`
	// DequeueTimeoutMS is how long the runner blocks on an empty queue
	// before yielding.
	DequeueTimeoutMS int `yaml:"dequeueTimeoutMs"`
	// HistoryDepth bounds the per-user state stack.
	HistoryDepth int `yaml:"historyDepth"`
	// BatchChunkSize groups batchable outbound tasks per flush chunk.
	BatchChunkSize int `yaml:"batchChunkSize"`
	// SendTimeoutSeconds caps one outbound HTTP send.
	SendTimeoutSeconds int `yaml:"sendTimeoutSeconds"`
}

type SchedulerConfig struct {
	ReminderIntervalSeconds  int `yaml:"reminderIntervalSeconds"`
	BroadcastIntervalSeconds int `yaml:"broadcastIntervalSeconds"`
	// FanoutWindowSeconds spreads one tick's sends to avoid bursts.
	FanoutWindowSeconds int `yaml:"fanoutWindowSeconds"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.botflow).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botflow"
	}
	return filepath.Join(home, ".botflow")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Flow.Path = ExpandPath(cfg.Flow.Path)
	cfg.Strings.Path = ExpandPath(cfg.Strings.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.SecurityToken == "" {
		errs = append(errs, "server.securityToken is required")
	}
	if cfg.Engine.QueueSize < 1 {
		errs = append(errs, "engine.queueSize must be >= 1")
	}
	if cfg.Engine.HistoryDepth < 1 {
		errs = append(errs, "engine.historyDepth must be >= 1")
	}
	if cfg.Engine.BatchChunkSize < 1 {
		errs = append(errs, "engine.batchChunkSize must be >= 1")
	}
	if cfg.Scheduler.ReminderIntervalSeconds < 1 {
		errs = append(errs, "scheduler.reminderIntervalSeconds must be >= 1")
	}
	if cfg.Scheduler.BroadcastIntervalSeconds < 1 {
		errs = append(errs, "scheduler.broadcastIntervalSeconds must be >= 1")
	}
	if cfg.Scheduler.FanoutWindowSeconds < 1 {
		errs = append(errs, "scheduler.fanoutWindowSeconds must be >= 1")
	}
	switch cfg.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "server.logLevel must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
