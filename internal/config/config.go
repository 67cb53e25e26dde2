// Package config handles configuration loading and validation for the validator node.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Aggregation methods recognized by score_aggregation
const (
	AggregationAverage = "average"
	AggregationMedian  = "median"
	AggregationMax     = "max"
)

// Miner transport kinds recognized by consensus.transport
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Config holds all configuration for the validator
type Config struct {
	Validator ValidatorConfig `mapstructure:"validator"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Redis     RedisConfig     `mapstructure:"redis"`
	API       APIConfig       `mapstructure:"api"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	NewRelic  NewRelicConfig  `mapstructure:"newrelic"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Log       LogConfig       `mapstructure:"log"`
}

// ValidatorConfig defines validator identity settings
type ValidatorConfig struct {
	Name       string `mapstructure:"name"`
	SubnetID   uint64 `mapstructure:"subnet_id"`
	HotAddress string `mapstructure:"hot_address"`
}

// UpstreamConfig defines a single registry fullnode
type UpstreamConfig struct {
	Name    string        `mapstructure:"name"`
	URL     string        `mapstructure:"url"`
	Weight  int           `mapstructure:"weight"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RegistryConfig defines chain registry connection settings
type RegistryConfig struct {
	URL                 string           `mapstructure:"url"`
	Timeout             time.Duration    `mapstructure:"timeout"`
	Upstreams           []UpstreamConfig `mapstructure:"upstreams"`
	HealthCheckInterval time.Duration    `mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration    `mapstructure:"health_check_timeout"`
	MaxFailures         int              `mapstructure:"max_failures"`
	RecoveryThreshold   int              `mapstructure:"recovery_threshold"`
}

// ConsensusConfig defines the phase scheduling engine settings
type ConsensusConfig struct {
	BatchSizeInitial     int           `mapstructure:"batch_size_initial"`
	BatchSizeMin         int           `mapstructure:"batch_size_min"`
	BatchSizeMax         int           `mapstructure:"batch_size_max"`
	BatchTimeoutInitial  time.Duration `mapstructure:"batch_timeout_initial"`
	MinBreak             time.Duration `mapstructure:"min_break"`
	MaxConcurrent        int64         `mapstructure:"max_concurrent"`
	ScoreAggregation     string        `mapstructure:"score_aggregation"`
	RetryFailed          bool          `mapstructure:"retry_failed"`
	AdaptiveBatch        bool          `mapstructure:"adaptive_batch"`
	DeterministicScoring bool          `mapstructure:"deterministic_scoring"`
	PhaseGuard           time.Duration `mapstructure:"phase_guard"`
	PhaseDuration        time.Duration `mapstructure:"phase_duration"`
	ControllerWindow     int           `mapstructure:"controller_window"`
	HistorySoftCap       int           `mapstructure:"history_soft_cap"`
	Transport            string        `mapstructure:"transport"`
}

// GuardInterval returns the configured phase guard, defaulting to the
// initial batch timeout when unset.
func (c *ConsensusConfig) GuardInterval() time.Duration {
	if c.PhaseGuard > 0 {
		return c.PhaseGuard
	}
	return c.BatchTimeoutInitial
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIConfig defines status API server settings
type APIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Bind        string        `mapstructure:"bind"`
	StatsCache  time.Duration `mapstructure:"stats_cache"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// NotifyConfig defines webhook notification settings
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	ValidatorURL string `mapstructure:"validator_url"`
}

// NewRelicConfig defines APM settings
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	LicenseKey string `mapstructure:"license_key"`
	AppName    string `mapstructure:"app_name"`
}

// ProfilingConfig defines pprof server settings
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mtcore")
	}

	// Read environment variables
	v.SetEnvPrefix("MTCORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Validator defaults
	v.SetDefault("validator.name", "ModernTensor Validator")
	v.SetDefault("validator.subnet_id", 1)

	// Registry defaults
	v.SetDefault("registry.url", "http://127.0.0.1:8090")
	v.SetDefault("registry.timeout", "10s")
	v.SetDefault("registry.health_check_interval", "5s")
	v.SetDefault("registry.health_check_timeout", "3s")
	v.SetDefault("registry.max_failures", 3)
	v.SetDefault("registry.recovery_threshold", 2)

	// Consensus defaults
	v.SetDefault("consensus.batch_size_initial", 5)
	v.SetDefault("consensus.batch_size_min", 2)
	v.SetDefault("consensus.batch_size_max", 10)
	v.SetDefault("consensus.batch_timeout_initial", "30s")
	v.SetDefault("consensus.min_break", "2s")
	v.SetDefault("consensus.max_concurrent", 10)
	v.SetDefault("consensus.score_aggregation", AggregationAverage)
	v.SetDefault("consensus.retry_failed", true)
	v.SetDefault("consensus.adaptive_batch", true)
	v.SetDefault("consensus.deterministic_scoring", false)
	v.SetDefault("consensus.phase_duration", "10m")
	v.SetDefault("consensus.controller_window", 5)
	v.SetDefault("consensus.history_soft_cap", 64)
	v.SetDefault("consensus.transport", TransportHTTP)

	// Redis defaults
	v.SetDefault("redis.url", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8080")
	v.SetDefault("api.stats_cache", "10s")
	v.SetDefault("api.cors_origins", []string{"*"})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Validator.HotAddress == "" {
		return fmt.Errorf("validator.hot_address is required")
	}

	if c.Registry.URL == "" && len(c.Registry.Upstreams) == 0 {
		return fmt.Errorf("registry.url or registry.upstreams is required")
	}

	cc := &c.Consensus
	if cc.BatchSizeMin < 1 {
		return fmt.Errorf("consensus.batch_size_min must be >= 1")
	}
	if cc.BatchSizeMin > cc.BatchSizeMax {
		return fmt.Errorf("consensus.batch_size_min must be <= batch_size_max")
	}
	if cc.BatchSizeInitial < cc.BatchSizeMin || cc.BatchSizeInitial > cc.BatchSizeMax {
		return fmt.Errorf("consensus.batch_size_initial must be within [min, max]")
	}
	if cc.BatchTimeoutInitial <= 0 {
		return fmt.Errorf("consensus.batch_timeout_initial must be positive")
	}
	if cc.MinBreak <= 0 {
		return fmt.Errorf("consensus.min_break must be positive")
	}
	if cc.MaxConcurrent < 1 {
		return fmt.Errorf("consensus.max_concurrent must be >= 1")
	}
	if cc.ControllerWindow < 1 {
		return fmt.Errorf("consensus.controller_window must be >= 1")
	}

	switch cc.ScoreAggregation {
	case AggregationAverage, AggregationMedian, AggregationMax:
	default:
		return fmt.Errorf("consensus.score_aggregation must be one of average, median, max")
	}

	switch cc.Transport {
	case TransportHTTP, TransportWebSocket:
	default:
		return fmt.Errorf("consensus.transport must be one of http, websocket")
	}

	return nil
}
