// Package enclave provides the enclave instance abstraction and the bounded
// instance pool used to serialize work-order processing.
package enclave

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Bavaji9/avalon/tcf/types"
)

// Mode specifies the enclave operation mode.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeHardware   Mode = "hardware"
)

// Config holds configuration for a single enclave instance.
type Config struct {
	Mode           Mode
	EnclaveID      string
	SealingKeyPath string
	DebugMode      bool

	// Executor runs the trusted workload for submitted work orders.
	Executor Executor
}

// Request carries the inputs of one work order into the trusted side.
// SignupData is the unsealed provisioning record; it exists in plaintext only
// for the duration of the call.
type Request struct {
	SignupData []byte
	Payload    []byte
}

// Executor is the trusted workload invoked for each work order.
// A failing executor should return a *types.ComputationError to control the
// reported status code; any other error is reported as StatusUnknownError.
type Executor interface {
	Execute(ctx context.Context, req Request) ([]byte, error)
}

// Instance is one loaded trusted-execution context.
type Instance struct {
	mu         sync.RWMutex
	config     Config
	sealingKey []byte
	ready      bool
}

// New creates a new enclave instance.
func New(cfg Config) (*Instance, error) {
	if cfg.EnclaveID == "" {
		return nil, fmt.Errorf("enclave_id is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSimulation
	}

	return &Instance{
		config: cfg,
	}, nil
}

// Initialize loads the instance, establishing its sealing key.
func (i *Instance) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.ready {
		return nil
	}

	if err := i.initSealingKey(); err != nil {
		return fmt.Errorf("init sealing key: %w", err)
	}

	i.ready = true
	return nil
}

// initSealingKey initializes or loads the sealing key.
func (i *Instance) initSealingKey() error {
	if i.config.Mode == ModeHardware {
		// In hardware mode, derive from the CPU sealing key
		i.sealingKey = i.deriveHardwareSealingKey()
		return nil
	}

	// Simulation mode: load from file or generate
	if i.config.SealingKeyPath != "" {
		key, err := os.ReadFile(i.config.SealingKeyPath)
		if err == nil && len(key) == 32 {
			i.sealingKey = key
			return nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate sealing key: %w", err)
	}
	i.sealingKey = key

	if i.config.SealingKeyPath != "" {
		if err := os.WriteFile(i.config.SealingKeyPath, key, 0600); err != nil {
			return fmt.Errorf("save sealing key: %w", err)
		}
	}

	return nil
}

// deriveHardwareSealingKey derives the sealing key from the platform
// (placeholder for the EGETKEY path).
func (i *Instance) deriveHardwareSealingKey() []byte {
	h := sha256.New()
	h.Write([]byte("SGX_SEALING_KEY"))
	h.Write([]byte(i.config.EnclaveID))
	return h.Sum(nil)
}

// Shutdown unloads the instance and zeros its sealing key.
func (i *Instance) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.sealingKey != nil {
		ZeroBytes(i.sealingKey)
		i.sealingKey = nil
	}

	i.ready = false
	return nil
}

// Health checks whether the instance is loaded and usable.
func (i *Instance) Health(ctx context.Context) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.ready {
		return types.ErrEnclaveNotReady
	}
	return nil
}

// EnclaveID returns the instance identifier.
func (i *Instance) EnclaveID() string {
	return i.config.EnclaveID
}

// Mode returns the enclave mode.
func (i *Instance) Mode() Mode {
	return i.config.Mode
}

// Seal encrypts data so only this instance can recover it.
func (i *Instance) Seal(plaintext []byte) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.ready {
		return nil, types.ErrEnclaveNotReady
	}

	gcm, err := i.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts data previously sealed by this instance.
func (i *Instance) Unseal(ciphertext []byte) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.ready {
		return nil, types.ErrEnclaveNotReady
	}

	gcm, err := i.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

func (i *Instance) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(i.sealingKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// GenerateRandom generates cryptographically secure random bytes.
func (i *Instance) GenerateRandom(size int) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.ready {
		return nil, types.ErrEnclaveNotReady
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate random: %w", err)
	}
	return buf, nil
}

// GetMeasurement returns the enclave measurement (MRENCLAVE).
func (i *Instance) GetMeasurement() ([]byte, error) {
	h := sha256.New()
	h.Write([]byte("MRENCLAVE"))
	h.Write([]byte(i.config.EnclaveID))
	return h.Sum(nil), nil
}

// GetSignerMeasurement returns the signer measurement (MRSIGNER).
func (i *Instance) GetSignerMeasurement() ([]byte, error) {
	h := sha256.New()
	h.Write([]byte("MRSIGNER"))
	h.Write([]byte("trusted-worker"))
	return h.Sum(nil), nil
}

// ProcessWorkOrder runs one work order inside the instance. The sealed signup
// data must unseal with this instance's sealing key; the plaintext record is
// handed to the executor and zeroed before return.
func (i *Instance) ProcessWorkOrder(ctx context.Context, sealedSignupData, request []byte) ([]byte, error) {
	if err := i.Health(ctx); err != nil {
		return nil, err
	}
	if i.config.Executor == nil {
		return nil, types.NewComputationError(types.StatusUnknownError,
			fmt.Errorf("no executor configured"))
	}

	signupData, err := i.Unseal(sealedSignupData)
	if err != nil {
		return nil, types.NewComputationError(types.StatusAuthFailed,
			fmt.Errorf("unseal signup data: %w", err))
	}
	defer ZeroBytes(signupData)

	response, err := i.config.Executor.Execute(ctx, Request{
		SignupData: signupData,
		Payload:    request,
	})
	if err != nil {
		var cerr *types.ComputationError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, types.NewComputationError(types.StatusUnknownError, err)
	}

	return response, nil
}

// =============================================================================
// Utility Functions
// =============================================================================

// ZeroBytes securely zeros a byte slice.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
