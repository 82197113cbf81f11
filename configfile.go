package conveyor

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads a Config from the given file (YAML, TOML, or JSON,
// chosen by extension), layered over DefaultConfig. Environment variables
// prefixed CONVEYOR_ override file values, with dots mapped to
// underscores (e.g. CONVEYOR_RETRY_MAX_ATTEMPTS).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CONVEYOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("conveyor: read config %q: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("conveyor: unmarshal config %q: %w", path, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("worker_count", cfg.WorkerCount)
	v.SetDefault("default_queue", cfg.DefaultQueue)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("error_backoff", cfg.ErrorBackoff)
	v.SetDefault("due_check_interval", cfg.DueCheckInterval)
	v.SetDefault("default_timeout", cfg.DefaultTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", cfg.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("retry.jitter", cfg.Retry.Jitter)
	v.SetDefault("dead_letter.max_age", cfg.DeadLetter.MaxAge)
	v.SetDefault("dead_letter.max_count", cfg.DeadLetter.MaxCount)
	v.SetDefault("dead_letter.alert", cfg.DeadLetter.Alert)
}
