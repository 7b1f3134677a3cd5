// Package types defines the shared types and error taxonomy for the trusted
// worker manager. This is the foundation layer - all cross-package types live
// here to avoid circular dependencies.
//
// Architecture:
//
//	The enclave is the trust root. Work orders are submitted to a pooled
//	enclave instance, computed inside the trust boundary, and staged for a
//	size-validated fetch back to the untrusted side.
package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// Core Errors
// =============================================================================

var (
	// ErrPoolExhausted is returned when no enclave instance becomes available
	// within the caller's wait bound.
	ErrPoolExhausted = errors.New("enclave pool exhausted")

	// ErrInvalidHandle is returned when an operation references a handle that
	// is not currently held by the caller. This is API misuse.
	ErrInvalidHandle = errors.New("invalid enclave handle")

	// ErrUnknownResponse is returned when a response identifier was already
	// consumed or never existed.
	ErrUnknownResponse = errors.New("unknown response identifier")

	// ErrSizeMismatch is returned when the size presented at fetch disagrees
	// with the size reported at submit.
	ErrSizeMismatch = errors.New("response size mismatch")

	// ErrEnclaveNotReady is returned when an instance is used before
	// initialization or after shutdown.
	ErrEnclaveNotReady = errors.New("enclave not ready")
)

// =============================================================================
// Enclave Status Codes
// =============================================================================

// Status is the status code reported by the trusted side of an enclave call.
type Status int

const (
	StatusSuccess         Status = 0
	StatusUnknownError    Status = 1
	StatusInvalidWorkload Status = 2
	StatusAuthFailed      Status = 3
	StatusCryptoError     Status = 4
)

// String returns a human-readable name for the status code.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnknownError:
		return "unknown error"
	case StatusInvalidWorkload:
		return "invalid workload"
	case StatusAuthFailed:
		return "authorization failed"
	case StatusCryptoError:
		return "crypto error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// =============================================================================
// Computation Error
// =============================================================================

// ComputationError reports a failure of the trusted computation itself,
// carrying the enclave-internal status code.
type ComputationError struct {
	Status Status
	Cause  error
}

func (e *ComputationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("trusted computation failed (%s): %s", e.Status, e.Cause)
	}
	return fmt.Sprintf("trusted computation failed (%s)", e.Status)
}

func (e *ComputationError) Unwrap() error {
	return e.Cause
}

// NewComputationError creates a computation error for the given status.
func NewComputationError(status Status, cause error) *ComputationError {
	return &ComputationError{Status: status, Cause: cause}
}

// =============================================================================
// Identifiers
// =============================================================================

// ResponseID identifies a staged work-order response until it is fetched.
// Identifiers are unique for the lifetime of the process.
type ResponseID uint64
