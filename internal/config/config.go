// Package config loads the worker configuration from config/worker.yaml with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the top-level worker configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Enclave   EnclaveConfig   `yaml:"enclave"`
	WorkOrder WorkOrderConfig `yaml:"work_order"`
}

// ServiceConfig configures the HTTP surface.
type ServiceConfig struct {
	Name           string `yaml:"name" env:"WORKER_SERVICE_NAME"`
	ListenAddr     string `yaml:"listen_addr" env:"WORKER_LISTEN_ADDR"`
	LogLevel       string `yaml:"log_level" env:"WORKER_LOG_LEVEL"`
	RateLimitRPS   int    `yaml:"rate_limit_rps" env:"WORKER_RATE_LIMIT_RPS"`
	RateLimitBurst int    `yaml:"rate_limit_burst" env:"WORKER_RATE_LIMIT_BURST"`
}

// EnclaveConfig configures the enclave pool.
type EnclaveConfig struct {
	Mode                  string `yaml:"mode" env:"WORKER_ENCLAVE_MODE"`
	PoolSize              int    `yaml:"pool_size" env:"WORKER_POOL_SIZE"`
	AcquireTimeoutSeconds int    `yaml:"acquire_timeout_seconds" env:"WORKER_ACQUIRE_TIMEOUT_SECONDS"`
	SealingKeyDir         string `yaml:"sealing_key_dir" env:"WORKER_SEALING_KEY_DIR"`
}

// AcquireTimeout returns the pool acquire timeout. Zero means wait until the
// caller's context is done.
func (c EnclaveConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}

// WorkOrderConfig configures response staging.
type WorkOrderConfig struct {
	// ResponseTTLSeconds bounds how long an unfetched response stays staged.
	// Zero disables eviction.
	ResponseTTLSeconds int `yaml:"response_ttl_seconds" env:"WORKER_RESPONSE_TTL_SECONDS"`
}

// ResponseTTL returns the staged-response eviction TTL.
func (c WorkOrderConfig) ResponseTTL() time.Duration {
	return time.Duration(c.ResponseTTLSeconds) * time.Second
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:           "trusted-worker",
			ListenAddr:     ":8080",
			LogLevel:       "info",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Enclave: EnclaveConfig{
			Mode:                  "simulation",
			PoolSize:              4,
			AcquireTimeoutSeconds: 30,
		},
		WorkOrder: WorkOrderConfig{
			ResponseTTLSeconds: 120,
		},
	}
}

// Load loads the configuration from config/worker.yaml.
func Load() (Config, error) {
	return LoadFromPath(filepath.Join("config", "worker.yaml"))
}

// LoadFromPath loads the configuration from a specific path. A missing file
// is not an error; defaults plus environment overrides apply.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse worker config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Fall through to env overrides.
	default:
		return Config{}, fmt.Errorf("read worker config: %w", err)
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for impossible values.
func (c Config) Validate() error {
	if c.Enclave.PoolSize < 1 {
		return fmt.Errorf("enclave pool_size must be at least 1")
	}
	if c.Enclave.Mode != "simulation" && c.Enclave.Mode != "hardware" {
		return fmt.Errorf("enclave mode must be simulation or hardware, got %q", c.Enclave.Mode)
	}
	if c.Service.ListenAddr == "" {
		return fmt.Errorf("service listen_addr is required")
	}
	if c.Service.RateLimitRPS < 1 {
		return fmt.Errorf("rate_limit_rps must be at least 1")
	}
	return nil
}
