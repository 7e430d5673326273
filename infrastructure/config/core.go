package config

import (
	"os"
	"time"
)

func defaultGetenv(key string) string {
	return os.Getenv(key)
}

// CoreConfig assembles every tunable the control plane reads from the
// environment. Persisted state layout is intentionally absent; the core does
// not persist.
type CoreConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Governor GovernorConfig `yaml:"governor"`
	Ops      OpsConfig      `yaml:"ops"`

	// PluginConfig carries per-plugin configuration maps, keyed by plugin id.
	PluginConfig map[string]map[string]any `yaml:"plugin_config,omitempty"`
}

// GovernorConfig holds governor resource limits and sweeper settings.
type GovernorConfig struct {
	TotalCPUMillis   int64  `yaml:"total_cpu_millis"`
	TotalMemoryBytes int64  `yaml:"total_memory_bytes"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	MaxQueueDepth    int    `yaml:"max_queue_depth"`
	SweepSchedule    string `yaml:"sweep_schedule,omitempty"`
}

// OpsConfig holds the operations endpoint settings.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// FromEnv assembles a CoreConfig from the process environment.
func FromEnv() CoreConfig {
	return CoreConfig{
		LogLevel:  Env("LOG_LEVEL", "info"),
		LogFormat: Env("LOG_FORMAT", "json"),
		Governor: GovernorConfig{
			TotalCPUMillis:   EnvInt64("GOVERNOR_TOTAL_CPU_MILLIS", 0),
			TotalMemoryBytes: EnvBytes("GOVERNOR_TOTAL_MEMORY", 0),
			MaxConcurrent:    EnvInt("GOVERNOR_MAX_CONCURRENT", 4),
			MaxQueueDepth:    EnvInt("GOVERNOR_MAX_QUEUE_DEPTH", 256),
			SweepSchedule:    Env("GOVERNOR_SWEEP_SCHEDULE", ""),
		},
		Ops: OpsConfig{
			Enabled: EnvBool("OPS_ENABLED", false),
			Addr:    Env("OPS_ADDR", ":9090"),
		},
	}
}

// DefaultShutdownGrace is the window shutdown waits for plugins to stop.
const DefaultShutdownGrace = 15 * time.Second
