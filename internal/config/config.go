// Package config loads runtime configuration from files and environment
// variables via viper. Poll intervals and timeouts are clamped to sane
// ranges so a typo in the environment cannot overload the monitored stack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration for the HTTP API
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		Mode            string        `mapstructure:"mode"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		EnableCORS      bool          `mapstructure:"enable_cors"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
		RateLimiting    struct {
			Enabled           bool    `mapstructure:"enabled"`
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limiting"`
	} `mapstructure:"server"`

	// Docker configuration controls Engine and Compose access
	Docker struct {
		Host string `mapstructure:"host"`

		// ComposeBinary is the command used to invoke Compose; it may
		// contain arguments ("docker compose")
		ComposeBinary string `mapstructure:"compose_binary"`

		// DiscoveryRoots are directories scanned for stack configuration
		DiscoveryRoots []string `mapstructure:"discovery_roots"`

		// ConfigCacheTTL bounds how long a resolved merged configuration
		// is reused before re-running `compose config`
		ConfigCacheTTL time.Duration `mapstructure:"config_cache_ttl"`

		// DefaultInternalPort is the port guess used when a service
		// declares no ports and no x-dev.port override
		DefaultInternalPort int `mapstructure:"default_internal_port"`
	} `mapstructure:"docker"`

	// Telemetry configuration for the polling loops and trace resolution
	Telemetry struct {
		HealthPollInterval      time.Duration `mapstructure:"health_poll_interval"`
		MetricsPollInterval     time.Duration `mapstructure:"metrics_poll_interval"`
		TraceProviderURL        string        `mapstructure:"trace_provider_url"`
		HTTPTimeout             time.Duration `mapstructure:"http_timeout"`
		TraceHTTPTimeout        time.Duration `mapstructure:"trace_http_timeout"`
		LogCorrelationTailLines int           `mapstructure:"log_correlation_tail_lines"`
	} `mapstructure:"telemetry"`

	// Logging configuration
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Output string `mapstructure:"output"`
	} `mapstructure:"logging"`
}

// LoadConfig loads configuration from the optional config file and the
// environment. Environment variables use the DOCKHAND_ prefix with
// underscores for nesting (DOCKHAND_DOCKER_DISCOVERY_ROOTS, ...).
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("dockhand")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dockhand")
	if configPath := os.Getenv("DOCKHAND_CONFIG_FILE"); configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix("DOCKHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has a default
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.clamp()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers defaults for every key so a bare environment
// produces a working configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4100)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limiting.enabled", false)
	v.SetDefault("server.rate_limiting.requests_per_second", 10.0)
	v.SetDefault("server.rate_limiting.burst", 30)

	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.compose_binary", "docker compose")
	v.SetDefault("docker.discovery_roots", []string{"."})
	v.SetDefault("docker.config_cache_ttl", "5s")
	v.SetDefault("docker.default_internal_port", 8080)

	v.SetDefault("telemetry.health_poll_interval", "5s")
	v.SetDefault("telemetry.metrics_poll_interval", "15s")
	v.SetDefault("telemetry.trace_provider_url", "")
	v.SetDefault("telemetry.http_timeout", "5s")
	v.SetDefault("telemetry.trace_http_timeout", "10s")
	v.SetDefault("telemetry.log_correlation_tail_lines", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// clamp bounds polling cadence and tail lines so misconfiguration cannot
// overload the monitored services.
func (c *Config) clamp() {
	c.Telemetry.HealthPollInterval = clampDuration(c.Telemetry.HealthPollInterval, time.Second, 60*time.Second)
	c.Telemetry.MetricsPollInterval = clampDuration(c.Telemetry.MetricsPollInterval, 5*time.Second, 120*time.Second)
	c.Telemetry.HTTPTimeout = clampDuration(c.Telemetry.HTTPTimeout, time.Second, 30*time.Second)
	c.Docker.ConfigCacheTTL = clampDuration(c.Docker.ConfigCacheTTL, time.Second, 120*time.Second)
	c.Telemetry.LogCorrelationTailLines = clampInt(c.Telemetry.LogCorrelationTailLines, 50, 5000)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Docker.ComposeBinary) == "" {
		return fmt.Errorf("docker.compose_binary must not be empty")
	}
	if c.Docker.DefaultInternalPort < 1 || c.Docker.DefaultInternalPort > 65535 {
		return fmt.Errorf("invalid docker.default_internal_port: %d", c.Docker.DefaultInternalPort)
	}
	if c.Telemetry.TraceProviderURL != "" &&
		!strings.HasPrefix(c.Telemetry.TraceProviderURL, "http://") &&
		!strings.HasPrefix(c.Telemetry.TraceProviderURL, "https://") {
		return fmt.Errorf("telemetry.trace_provider_url must be an http(s) URL: %s", c.Telemetry.TraceProviderURL)
	}
	return nil
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
