package gateway

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for the checkpoint gateway service
type Config struct {
	Port           string   `yaml:"port"            env:"GATEWAY_PORT"`
	LogLevel       string   `yaml:"log_level"       env:"LOG_LEVEL"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	RegistryShards int      `yaml:"registry_shards" env:"REGISTRY_SHARDS"`

	Connection ConnectionConfig `yaml:"connection"`
	NATS       NATSConfig       `yaml:"nats"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
}

// LifecycleConfig controls what happens when a checkpoint's deadline passes
type LifecycleConfig struct {
	// AutoExpire stops checkpoints at their deadline. Off by default: the
	// deadline is advisory and the presenter stops the checkpoint.
	AutoExpire bool `yaml:"auto_expire" env:"AUTO_EXPIRE"`
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		Port:           "8081",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		RegistryShards: registry.DefaultShards,
		Connection:     DefaultConnectionConfig(),
		NATS:           DefaultNATSConfig(),
	}
}

// LoadConfig layers an optional YAML file and then the environment over the
// defaults. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects settings the gateway cannot run with
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.RegistryShards <= 0 {
		errs = append(errs, fmt.Errorf("registry_shards must be positive, got %d", c.RegistryShards))
	}

	conn := c.Connection
	if conn.WriteTimeout <= 0 || conn.ReadTimeout <= 0 || conn.PingInterval <= 0 {
		errs = append(errs, errors.New("connection timeouts must be positive"))
	}
	if conn.PingInterval >= conn.ReadTimeout {
		errs = append(errs, errors.New("ping_interval must be shorter than read_timeout"))
	}
	if conn.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if conn.ReadBufferSize <= 0 || conn.WriteBufferSize <= 0 || conn.SendQueueSize <= 0 {
		errs = append(errs, errors.New("buffer and queue sizes must be positive"))
	}

	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats subject_prefix is required when nats url is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NATSEnabled reports whether a NATS URL was configured
func (c Config) NATSEnabled() bool {
	return c.NATS.URL != ""
}
