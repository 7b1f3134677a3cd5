package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath() err = %v", err)
	}
	if cfg.Enclave.PoolSize != 4 {
		t.Fatalf("PoolSize = %d, want default 4", cfg.Enclave.PoolSize)
	}
	if cfg.Enclave.Mode != "simulation" {
		t.Fatalf("Mode = %q, want simulation", cfg.Enclave.Mode)
	}
	if cfg.WorkOrder.ResponseTTL() != 2*time.Minute {
		t.Fatalf("ResponseTTL = %v, want 2m", cfg.WorkOrder.ResponseTTL())
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	data := []byte(`
service:
  listen_addr: ":9000"
enclave:
  pool_size: 2
  acquire_timeout_seconds: 5
work_order:
  response_ttl_seconds: 30
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() err = %v", err)
	}
	if cfg.Service.ListenAddr != ":9000" {
		t.Fatalf("ListenAddr = %q, want :9000", cfg.Service.ListenAddr)
	}
	if cfg.Enclave.PoolSize != 2 {
		t.Fatalf("PoolSize = %d, want 2", cfg.Enclave.PoolSize)
	}
	if cfg.Enclave.AcquireTimeout() != 5*time.Second {
		t.Fatalf("AcquireTimeout = %v, want 5s", cfg.Enclave.AcquireTimeout())
	}
	// Unset fields keep their defaults.
	if cfg.Service.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.Service.LogLevel)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("WORKER_ENCLAVE_MODE", "hardware")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath() err = %v", err)
	}
	if cfg.Enclave.PoolSize != 8 {
		t.Fatalf("PoolSize = %d, want 8 from env", cfg.Enclave.PoolSize)
	}
	if cfg.Enclave.Mode != "hardware" {
		t.Fatalf("Mode = %q, want hardware from env", cfg.Enclave.Mode)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Enclave.PoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted pool_size 0")
	}

	cfg = Default()
	cfg.Enclave.Mode = "paranoid"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted unknown mode")
	}

	cfg = Default()
	cfg.Service.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted empty listen_addr")
	}
}
