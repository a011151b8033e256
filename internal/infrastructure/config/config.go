package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/bantz-ai/bantz/internal/domain/latency"
)

// Config is the runtime's fully resolved configuration.
type Config struct {
	Policy   PolicyConfig   `mapstructure:"policy"`
	Latency  latency.Config `mapstructure:"latency"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Memory   MemoryConfig   `mapstructure:"memory"`
}

// PolicyConfig points at the tool risk policy file.
type PolicyConfig struct {
	Path string `mapstructure:"path"` // empty uses the built-in fallback table
}

// DatabaseConfig selects the reminder store's backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig holds the log level and format keys of the config file. The CLI
// builds its logger before the config is loaded and does not read them.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ReminderConfig tunes the reminder scheduler's poll interval.
type ReminderConfig struct {
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"`
}

// MemoryConfig toggles long-term memory recording.
type MemoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load resolves Config from layered sources: built-in defaults, the global
// ~/.bantz/config.yaml, a project-local config.yaml, then BANTZ_*
// environment variables, each layer overriding the last.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := HomeDir()
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break // only the first local config found applies
		}
	}

	v.SetEnvPrefix("BANTZ")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("policy.path", filepath.Join(HomeDir(), "policy.json"))

	def := latency.DefaultConfig()
	v.SetDefault("latency.asr_max_ms", def.ASRMaxMS)
	v.SetDefault("latency.router_max_ms", def.RouterMaxMS)
	v.SetDefault("latency.tool_max_ms", def.ToolMaxMS)
	v.SetDefault("latency.finalizer_max_ms", def.FinalizerMaxMS)
	v.SetDefault("latency.tts_max_ms", def.TTSMaxMS)
	v.SetDefault("latency.end_to_end_max_ms", def.EndToEndMaxMS)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "bantz.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("reminder.tick_interval_seconds", 10)

	v.SetDefault("memory.enabled", true)
}
