// Package config loads the poller configuration from a YAML file with
// TDP_-prefixed environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	MinPollInterval = 30 * time.Second
	MaxPollInterval = 15 * time.Minute
)

// Config represents the complete application configuration
type Config struct {
	Poller  PollerConfig  `mapstructure:"poller" yaml:"poller"`
	OAuth   OAuthConfig   `mapstructure:"oauth" yaml:"oauth"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// PollerConfig contains the polling loop settings
type PollerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// AssumeOnline controls whether a device without any connectivity
	// signal is reported online.
	AssumeOnline bool `mapstructure:"assume_online" yaml:"assume_online"`
	HealthPort   int  `mapstructure:"health_port" yaml:"health_port"`
	MetricsPort  int  `mapstructure:"metrics_port" yaml:"metrics_port"`
}

// OAuthConfig contains the authorization server settings
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	AuthorizeURL string   `mapstructure:"authorize_url" yaml:"authorize_url,omitempty"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url,omitempty"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes,omitempty"`
}

// APIConfig contains the data API client settings
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	TokenDB string `mapstructure:"token_db" yaml:"token_db"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from the given YAML file. Any key can be
// overridden through the environment, e.g. TDP_OAUTH_CLIENT_ID. An empty
// path loads defaults and environment values only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TDP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &config, nil
}

// setDefaults registers default values for all configuration fields
func setDefaults(v *viper.Viper) {
	v.SetDefault("poller.poll_interval", time.Minute)
	v.SetDefault("poller.assume_online", true)
	v.SetDefault("poller.health_port", 8080)
	v.SetDefault("poller.metrics_port", 9090)

	// Registering empty defaults makes these keys visible to viper so
	// environment overrides apply even without a config file entry.
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.authorize_url", "")
	v.SetDefault("oauth.token_url", "")

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("storage.token_db", "tokens.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Poller.PollInterval < MinPollInterval || config.Poller.PollInterval > MaxPollInterval {
		return fmt.Errorf("poll_interval must be between %s and %s, got %s",
			MinPollInterval, MaxPollInterval, config.Poller.PollInterval)
	}
	if config.Poller.HealthPort <= 0 || config.Poller.HealthPort > 65535 {
		return fmt.Errorf("health_port %d out of range", config.Poller.HealthPort)
	}
	if config.Poller.MetricsPort <= 0 || config.Poller.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port %d out of range", config.Poller.MetricsPort)
	}
	if config.OAuth.ClientID == "" {
		return fmt.Errorf("oauth.client_id is required")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s, must be one of: trace, debug, info, warn, error", config.Logging.Level)
	}
	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format: %s, must be json or console", config.Logging.Format)
	}
	return nil
}

// CreateExampleConfig creates an example configuration file
func CreateExampleConfig(path string) error {
	config := Config{
		Poller: PollerConfig{
			PollInterval: time.Minute,
			AssumeOnline: true,
			HealthPort:   8080,
			MetricsPort:  9090,
		},
		OAuth: OAuthConfig{
			ClientID: "your-client-id",
			Scopes: []string{
				"openid",
				"offline_access",
				"data-api-user-read",
				"data-api-homes-read",
			},
		},
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			TokenDB: "/var/lib/tdp/tokens.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("marshaling example config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing example config: %w", err)
	}
	return nil
}
