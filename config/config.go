// Package config loads the macrokit core configuration.
//
// Configuration is an explicit struct constructed once at startup and passed
// by reference to the stores; nothing reads ambient global state at runtime.
package config

import "time"

// Config is the top-level macrokit configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Recording RecordingConfig `mapstructure:"recording"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Security  SecurityConfig  `mapstructure:"security"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

// DatabaseConfig controls the SQLite backing store.
type DatabaseConfig struct {
	// Path to the SQLite database file.
	Path string `mapstructure:"path"`
}

// RecordingConfig controls the recording store and its cache.
type RecordingConfig struct {
	// MaxActions caps the action count per recording. Saves beyond the cap
	// fail with a capacity error.
	MaxActions int `mapstructure:"max_actions"`

	// CacheTTLSeconds is the default time-to-live for cached recordings.
	// Zero disables expiry.
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// CacheTTL returns the recording cache TTL as a duration.
func (c RecordingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SchedulerConfig controls due-time polling and execution history retention.
type SchedulerConfig struct {
	// PollIntervalSeconds is how often the ticker checks for due schedules.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// HistoryRetentionDays is the default window for
	// CleanupOldExecutionHistory when callers pass no override.
	HistoryRetentionDays int `mapstructure:"history_retention_days"`

	// HistoryMaxEntries bounds execution history per schedule; the oldest
	// entries beyond the cap are pruned on append.
	HistoryMaxEntries int `mapstructure:"history_max_entries"`

	// DueBatchLimit caps how many due schedules one poll returns.
	DueBatchLimit int `mapstructure:"due_batch_limit"`
}

// PollInterval returns the poll interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SecurityConfig controls encryption of recording payloads at rest.
type SecurityConfig struct {
	// EncryptionEnabled toggles action-payload encryption.
	EncryptionEnabled bool `mapstructure:"encryption_enabled"`
}

// SyncConfig controls calls to external systems (OS task scheduler, registry).
type SyncConfig struct {
	// MaxRetries bounds retry attempts for transient external failures.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryBackoffMs is the initial backoff; doubled per attempt.
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`

	// RatePerSecond limits outbound external-system calls.
	RatePerSecond float64 `mapstructure:"rate_per_second"`

	// ConflictPolicy selects reconciliation behavior when local and external
	// definitions diverge: "local_wins" (default) or "report_only".
	ConflictPolicy string `mapstructure:"conflict_policy"`
}

// RetryBackoff returns the initial retry backoff as a duration.
func (c SyncConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// Conflict policy values for SyncConfig.ConflictPolicy.
const (
	ConflictPolicyLocalWins  = "local_wins"
	ConflictPolicyReportOnly = "report_only"
)
