package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"       validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database"     validate:"required"`
	Cache        CacheConfig        `mapstructure:"cache"        validate:"required"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" validate:"required"`
	Cleanup      CleanupConfig      `mapstructure:"cleanup"      validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// CacheConfig configures the idempotent result cache.
type CacheConfig struct {
	RedisAddr string `mapstructure:"redis_addr" validate:"required"`
	RedisDB   int    `mapstructure:"redis_db"   validate:"gte=0"`
	// ResultTTLMinutes bounds how long a cached unit result may satisfy a
	// duplicate submission.
	ResultTTLMinutes int `mapstructure:"result_ttl_minutes" validate:"required,gt=0"`
}

// ResultTTL returns the cache TTL as a duration.
func (c CacheConfig) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLMinutes) * time.Minute
}

// OrchestratorConfig configures batch fan-out behavior.
type OrchestratorConfig struct {
	// WorkerCount bounds how many units of one batch run concurrently.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
}

// CleanupConfig configures retention housekeeping for terminal task records.
type CleanupConfig struct {
	// RetentionDays is the age past which terminal records are deleted.
	RetentionDays int `mapstructure:"retention_days" validate:"required,gt=0"`
	// Schedule is a cron expression for the cleanup job.
	Schedule string `mapstructure:"schedule" validate:"required"`
}

// Retention returns the retention window as a duration.
func (c CleanupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
