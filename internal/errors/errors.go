// Package errors translates core errors into the HTTP error-reporting
// convention at the service boundary. The core packages return sentinel and
// typed errors; nothing below the façade knows about HTTP statuses.
package errors

import (
	"errors"
	"net/http"

	"github.com/Bavaji9/avalon/tcf/types"
)

// ServiceError is the JSON error body returned by the HTTP API.
type ServiceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// RateLimitExceeded builds the error returned when a client is throttled.
func RateLimitExceeded() *ServiceError {
	return &ServiceError{
		Code:       "rate_limit_exceeded",
		Message:    "too many requests",
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// FromError maps a core error onto the wire representation.
func FromError(err error) *ServiceError {
	var cerr *types.ComputationError
	switch {
	case errors.Is(err, types.ErrPoolExhausted):
		return &ServiceError{
			Code:       "pool_exhausted",
			Message:    "no enclave instance available",
			HTTPStatus: http.StatusServiceUnavailable,
		}
	case errors.Is(err, types.ErrInvalidHandle):
		return &ServiceError{
			Code:       "invalid_handle",
			Message:    "enclave handle is not held",
			HTTPStatus: http.StatusInternalServerError,
		}
	case errors.Is(err, types.ErrUnknownResponse):
		return &ServiceError{
			Code:       "unknown_response",
			Message:    "response already consumed or never staged",
			HTTPStatus: http.StatusConflict,
		}
	case errors.Is(err, types.ErrSizeMismatch):
		return &ServiceError{
			Code:       "size_mismatch",
			Message:    "response size does not match submission",
			HTTPStatus: http.StatusConflict,
		}
	case errors.As(err, &cerr):
		return &ServiceError{
			Code:       "computation_failed",
			Message:    cerr.Error(),
			HTTPStatus: http.StatusUnprocessableEntity,
		}
	default:
		return &ServiceError{
			Code:       "internal_error",
			Message:    err.Error(),
			HTTPStatus: http.StatusInternalServerError,
		}
	}
}
