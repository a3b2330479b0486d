// Package config loads the orchestrator's static configuration from an
// optional config file and environment variables, grounded on
// ArthurCRodrigues-transcode-worker's internal/config.Load: defaults, then
// config file, then environment (highest priority), unmarshalled into a
// single struct via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized orchestrator setting (spec §6).
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	CallbackURL string `mapstructure:"callback_url"`

	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	NodeTimeout         time.Duration `mapstructure:"node_timeout"`
	MetricsInterval     time.Duration `mapstructure:"metrics_interval"`

	MaxConcurrentPerNode int `mapstructure:"max_concurrent_per_node"`

	AutoScaling AutoScalingConfig `mapstructure:"auto_scaling"`
}

// AutoScalingConfig carries the Metrics Aggregator's advisory thresholds
// (spec §6 "autoScaling.{min,max}Nodes").
type AutoScalingConfig struct {
	MinNodes           int           `mapstructure:"min_nodes"`
	MaxNodes           int           `mapstructure:"max_nodes"`
	ScaleUpThreshold   float64       `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold float64       `mapstructure:"scale_down_threshold"`
	CooldownPeriod     time.Duration `mapstructure:"cooldown_period"`
}

// Load reads configuration from a config file (if present at path) and
// environment variables. Priority: Env Vars > Config File > Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "./orchestrator.db")
	v.SetDefault("callback_url", "http://localhost:8080/api/v1/recordings/events")
	v.SetDefault("health_check_interval", 30*time.Second)
	v.SetDefault("node_timeout", 60*time.Second)
	v.SetDefault("metrics_interval", 15*time.Second)
	v.SetDefault("max_concurrent_per_node", 6)
	v.SetDefault("auto_scaling.min_nodes", 1)
	v.SetDefault("auto_scaling.max_nodes", 20)
	v.SetDefault("auto_scaling.scale_up_threshold", 80.0)
	v.SetDefault("auto_scaling.scale_down_threshold", 20.0)
	v.SetDefault("auto_scaling.cooldown_period", 5*time.Minute)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding into struct: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return fmt.Errorf("config: db_driver must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.AutoScaling.MaxNodes < cfg.AutoScaling.MinNodes {
		return fmt.Errorf("config: auto_scaling.max_nodes must be >= min_nodes")
	}
	if cfg.MaxConcurrentPerNode <= 0 {
		return fmt.Errorf("config: max_concurrent_per_node must be positive")
	}
	return nil
}
