package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "macrokit.db")

	// Recording defaults
	v.SetDefault("recording.max_actions", 10000)
	v.SetDefault("recording.cache_ttl_seconds", 300) // 5 minute cache

	// Scheduler defaults
	v.SetDefault("scheduler.poll_interval_seconds", 1)
	v.SetDefault("scheduler.history_retention_days", 30)
	v.SetDefault("scheduler.history_max_entries", 100) // keep last 100 per schedule
	v.SetDefault("scheduler.due_batch_limit", 100)     // prevents overwhelming the executor

	// Security defaults
	v.SetDefault("security.encryption_enabled", true)

	// External sync defaults
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_backoff_ms", 500)
	v.SetDefault("sync.rate_per_second", 5.0)
	v.SetDefault("sync.conflict_policy", ConflictPolicyLocalWins)
}
