package enclave

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bavaji9/avalon/tcf/types"
)

// PoolConfig holds configuration for the enclave pool.
type PoolConfig struct {
	// Instances are the loaded enclave instances the pool hands out.
	Instances []*Instance

	// AcquireTimeout bounds how long Acquire waits for a free instance.
	// Zero means wait until the caller's context is done.
	AcquireTimeout time.Duration
}

// Handle grants exclusive, time-bounded use of one pooled enclave instance.
// It is valid from Acquire until Release and must not be shared between
// goroutines or retained after release.
type Handle struct {
	instance *Instance
	pool     *Pool
	released atomic.Bool
}

// Instance returns the enclave instance this handle holds.
// Returns nil after the handle has been released.
func (h *Handle) Instance() *Instance {
	if h.released.Load() {
		return nil
	}
	return h.instance
}

// Pool owns a fixed set of enclave instances and tracks which are free.
// At most one caller holds a given instance at a time; waiters are served
// in FIFO order by the free channel.
type Pool struct {
	mu             sync.Mutex
	free           chan *Instance
	size           int
	acquireTimeout time.Duration
	closed         bool
}

// NewPool creates a pool over the given instances.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Instances) == 0 {
		return nil, fmt.Errorf("at least one enclave instance is required")
	}

	free := make(chan *Instance, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		if inst == nil {
			return nil, fmt.Errorf("nil enclave instance")
		}
		free <- inst
	}

	return &Pool{
		free:           free,
		size:           len(cfg.Instances),
		acquireTimeout: cfg.AcquireTimeout,
	}, nil
}

// Size returns the number of instances the pool owns.
func (p *Pool) Size() int {
	return p.size
}

// Available returns the number of instances currently free.
func (p *Pool) Available() int {
	return len(p.free)
}

// Acquire hands out a ready enclave instance, blocking until one is free,
// the context is done, or the configured acquire timeout elapses. Timeout
// and cancellation surface as ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("acquire: pool is closed")
	}
	p.mu.Unlock()

	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	select {
	case inst := <-p.free:
		return &Handle{instance: inst, pool: p}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrPoolExhausted, ctx.Err())
	}
}

// Release returns the handle's instance to the pool. Releasing an already
// released handle is a no-op, so the pool can never be over-filled by misuse.
func (p *Pool) Release(h *Handle) {
	if h == nil || h.pool != p {
		return
	}
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	p.free <- h.instance
}

// Holds reports whether the handle currently grants access to an instance
// owned by this pool.
func (p *Pool) Holds(h *Handle) bool {
	return h != nil && h.pool == p && !h.released.Load()
}

// Close shuts down the pool and every idle instance. Instances still held
// at the time of the call stay with their holders; their releases become
// no-ops and the instances are left to the holders to shut down.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	for {
		select {
		case inst := <-p.free:
			if err := inst.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
