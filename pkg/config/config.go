package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "FOG"

type Config struct {
	ListenAddr  string            `mapstructure:"listen_addr"`
	LogLevel    string            `mapstructure:"log_level"`
	FleetFile   string            `mapstructure:"fleet_file"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Balancer    BalancerConfig    `mapstructure:"balancer"`
}

type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"` // empty: local tier only
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	LRUCapacity int           `mapstructure:"lru_capacity"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type CoordinatorConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	TopologyHistory   int           `mapstructure:"topology_history"`
	DefaultStrategy   string        `mapstructure:"default_strategy"`
}

type BalancerConfig struct {
	Algorithm             string        `mapstructure:"algorithm"`
	FailureThreshold      int           `mapstructure:"failure_threshold"`
	SuccessThreshold      int           `mapstructure:"success_threshold"`
	OpenTimeout           time.Duration `mapstructure:"open_timeout"`
	CPUScaleUpThreshold   float64       `mapstructure:"cpu_scale_up_threshold"`
	CPUScaleDownThreshold float64       `mapstructure:"cpu_scale_down_threshold"`
	MinNodes              int           `mapstructure:"min_nodes"`
	ScalingHistory        int           `mapstructure:"scaling_history"`
	LatencyWindow         int           `mapstructure:"latency_window"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("fleet_file", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.url", "")
	v.SetDefault("cache.default_ttl", 300*time.Second)
	v.SetDefault("cache.lru_capacity", 5000)
	v.SetDefault("cache.key_prefix", "fog:")

	v.SetDefault("coordinator.heartbeat_interval", 30*time.Second)
	v.SetDefault("coordinator.heartbeat_timeout", 90*time.Second)
	v.SetDefault("coordinator.topology_history", 100)
	v.SetDefault("coordinator.default_strategy", "round_robin")

	v.SetDefault("balancer.algorithm", "least_connections")
	v.SetDefault("balancer.failure_threshold", 5)
	v.SetDefault("balancer.success_threshold", 2)
	v.SetDefault("balancer.open_timeout", 60*time.Second)
	v.SetDefault("balancer.cpu_scale_up_threshold", 80.0)
	v.SetDefault("balancer.cpu_scale_down_threshold", 30.0)
	v.SetDefault("balancer.min_nodes", 2)
	v.SetDefault("balancer.scaling_history", 100)
	v.SetDefault("balancer.latency_window", 100)
}

// New returns a viper instance with defaults and FOG_* env overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads defaults, the optional config file at path and the environment.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromViper(New())
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

var ErrInvalidConfig = errors.New("invalid configuration")

func (c *Config) Validate() error {
	var problems []string

	if c.Cache.DefaultTTL <= 0 {
		problems = append(problems, "cache.default_ttl must be positive")
	}
	if c.Cache.LRUCapacity <= 0 {
		problems = append(problems, "cache.lru_capacity must be positive")
	}
	if c.Coordinator.HeartbeatInterval <= 0 {
		problems = append(problems, "coordinator.heartbeat_interval must be positive")
	}
	if c.Coordinator.HeartbeatTimeout <= 0 {
		problems = append(problems, "coordinator.heartbeat_timeout must be positive")
	}
	if c.Coordinator.TopologyHistory <= 0 {
		problems = append(problems, "coordinator.topology_history must be positive")
	}
	if c.Balancer.FailureThreshold <= 0 || c.Balancer.SuccessThreshold <= 0 {
		problems = append(problems, "balancer thresholds must be positive")
	}
	if c.Balancer.OpenTimeout <= 0 {
		problems = append(problems, "balancer.open_timeout must be positive")
	}
	if c.Balancer.CPUScaleDownThreshold >= c.Balancer.CPUScaleUpThreshold {
		problems = append(problems, "balancer.cpu_scale_down_threshold must be below cpu_scale_up_threshold")
	}
	if c.Balancer.LatencyWindow <= 0 || c.Balancer.ScalingHistory <= 0 {
		problems = append(problems, "balancer windows must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
