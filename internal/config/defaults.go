package config

import "path/filepath"

// Defaults returns a config with sane defaults. Load overlays the YAML
// file on top of this.
func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			LogLevel: "info",
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(dir, "botflow.db"),
		},
		Flow: FlowConfig{
			Path:  filepath.Join(dir, "flow", "latest.json"),
			Watch: true,
		},
		Strings: StringsConfig{
			Path:            filepath.Join(dir, "strings.json"),
			CacheTTLMinutes: 60,
		},
		Engine: EngineConfig{
			QueueSize:          100,
			DequeueTimeoutMS:   250,
			HistoryDepth:       10,
			BatchChunkSize:     30,
			SendTimeoutSeconds: 30,
		},
		Scheduler: SchedulerConfig{
			ReminderIntervalSeconds:  10,
			BroadcastIntervalSeconds: 60,
			FanoutWindowSeconds:      60,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
