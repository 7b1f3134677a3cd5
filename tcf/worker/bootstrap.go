package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Bavaji9/avalon/internal/config"
	"github.com/Bavaji9/avalon/internal/logging"
	"github.com/Bavaji9/avalon/internal/metrics"
	"github.com/Bavaji9/avalon/tcf/enclave"
	"github.com/Bavaji9/avalon/tcf/signup"
	"github.com/Bavaji9/avalon/tcf/workorder"
)

// Runtime holds everything Bootstrap wires together.
type Runtime struct {
	Service          *Service
	Pool             *enclave.Pool
	Store            *workorder.Store
	SignupInfo       *signup.Info
	SealedSignupData []byte
}

// Bootstrap loads the enclave pool, provisions the worker identity, and wires
// the work-order pipeline from configuration.
//
// All instances share one enclave identity and sealing key, so signup data
// sealed during provisioning unseals on whichever instance the pool hands out.
func Bootstrap(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Runtime, error) {
	keyPath, err := sealingKeyPath(cfg.Enclave)
	if err != nil {
		return nil, err
	}

	instances := make([]*enclave.Instance, 0, cfg.Enclave.PoolSize)
	for n := 0; n < cfg.Enclave.PoolSize; n++ {
		inst, err := enclave.New(enclave.Config{
			Mode:           enclave.Mode(cfg.Enclave.Mode),
			EnclaveID:      ServiceID,
			SealingKeyPath: keyPath,
			Executor:       signup.WorkloadExecutor{},
		})
		if err != nil {
			return nil, fmt.Errorf("create enclave instance %d: %w", n, err)
		}
		if err := inst.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize enclave instance %d: %w", n, err)
		}
		instances = append(instances, inst)
	}

	info, sealed, err := signup.CreateSignupData(ctx, instances[0], ServiceID)
	if err != nil {
		return nil, fmt.Errorf("provision worker: %w", err)
	}
	logger.WithField("worker_id", info.WorkerID).
		WithField("measurement", info.Measurement).
		Info("worker provisioned")

	pool, err := enclave.NewPool(enclave.PoolConfig{
		Instances:      instances,
		AcquireTimeout: cfg.Enclave.AcquireTimeout(),
	})
	if err != nil {
		return nil, err
	}
	metrics.RegisterPoolGauges(
		func() float64 { return float64(pool.Size()) },
		func() float64 { return float64(pool.Available()) },
	)

	store := workorder.NewStore(cfg.WorkOrder.ResponseTTL())
	processor, err := workorder.NewProcessor(store)
	if err != nil {
		return nil, err
	}

	svc, err := New(Config{
		Pool:           pool,
		Processor:      processor,
		Store:          store,
		SignupInfo:     info,
		Logger:         logger,
		RateLimitRPS:   cfg.Service.RateLimitRPS,
		RateLimitBurst: cfg.Service.RateLimitBurst,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Service:          svc,
		Pool:             pool,
		Store:            store,
		SignupInfo:       info,
		SealedSignupData: sealed,
	}, nil
}

// Shutdown releases the runtime's resources.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.Store.Close()
	return r.Pool.Close(ctx)
}

// sealingKeyPath resolves the shared sealing key location. In simulation mode
// the key is persisted so every pool instance loads the same one.
func sealingKeyPath(cfg config.EnclaveConfig) (string, error) {
	if cfg.Mode == "hardware" {
		// Hardware mode derives the key from the platform; no file needed.
		return "", nil
	}

	dir := cfg.SealingKeyDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "trusted-worker")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create sealing key dir: %w", err)
	}
	return filepath.Join(dir, "sealing.key"), nil
}
