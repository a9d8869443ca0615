// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Evaluation   EvaluationConfig   `mapstructure:"evaluation"`
	Challenges   ChallengesConfig   `mapstructure:"challenges"`
	Leaderboards LeaderboardsConfig `mapstructure:"leaderboards"`
	PeerGroups   PeerGroupsConfig   `mapstructure:"peer_groups"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds Redis connection configuration. Redis backs the
// leaderboard read cache and the event pub/sub channel.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EvaluationConfig holds achievement evaluation settings.
type EvaluationConfig struct {
	// TradeWindowDays bounds how far back the evaluator fetches trades.
	TradeWindowDays int `mapstructure:"trade_window_days"`
	// LockTimeout bounds how long a trigger waits for the per-user lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// ChallengesConfig holds challenge tracker settings.
type ChallengesConfig struct {
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ExpiryInterval   time.Duration `mapstructure:"expiry_interval"`
}

// LeaderboardsConfig holds leaderboard compiler settings.
type LeaderboardsConfig struct {
	CompileInterval time.Duration `mapstructure:"compile_interval"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheTopN       int           `mapstructure:"cache_top_n"`
}

// PeerGroupsConfig holds peer group assigner settings.
type PeerGroupsConfig struct {
	AssignInterval      time.Duration `mapstructure:"assign_interval"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	InactivityDays      int           `mapstructure:"inactivity_days"`
	MaxGroupsPerUser    int           `mapstructure:"max_groups_per_user"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, REDIS_ADDR, LEADERBOARDS_COMPILE_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "journal")
	v.SetDefault("database.name", "journal")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Evaluation defaults
	v.SetDefault("evaluation.trade_window_days", 365)
	v.SetDefault("evaluation.lock_timeout", "5s")

	// Challenge tracker defaults
	v.SetDefault("challenges.progress_interval", "15m")
	v.SetDefault("challenges.expiry_interval", "1h")

	// Leaderboard compiler defaults
	v.SetDefault("leaderboards.compile_interval", "30m")
	v.SetDefault("leaderboards.cache_ttl", "5m")
	v.SetDefault("leaderboards.cache_top_n", 100)

	// Peer group defaults
	v.SetDefault("peer_groups.assign_interval", "6h")
	v.SetDefault("peer_groups.maintenance_interval", "24h")
	v.SetDefault("peer_groups.inactivity_days", 90)
	v.SetDefault("peer_groups.max_groups_per_user", 3)
}
