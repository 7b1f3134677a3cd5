// Package worker exposes the work-order request façade and its HTTP surface.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Bavaji9/avalon/internal/errors"
	"github.com/Bavaji9/avalon/internal/logging"
	"github.com/Bavaji9/avalon/internal/metrics"
	"github.com/Bavaji9/avalon/internal/middleware"
	"github.com/Bavaji9/avalon/tcf/enclave"
	"github.com/Bavaji9/avalon/tcf/signup"
	"github.com/Bavaji9/avalon/tcf/workorder"
)

const (
	ServiceID   = "trusted-worker"
	ServiceName = "Trusted Worker Manager"
	Version     = "1.0.0"
)

// Config configures the worker service.
type Config struct {
	Pool       *enclave.Pool
	Processor  *workorder.Processor
	Store      *workorder.Store
	SignupInfo *signup.Info
	Logger     *logging.Logger

	RateLimitRPS   int
	RateLimitBurst int
}

// Service composes the enclave pool, work-order processor, and response store
// behind the single externally callable work-order operation.
type Service struct {
	pool       *enclave.Pool
	processor  *workorder.Processor
	store      *workorder.Store
	signupInfo *signup.Info
	logger     *logging.Logger

	rateLimitRPS   int
	rateLimitBurst int
}

// New creates a new worker service.
func New(cfg Config) (*Service, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("enclave pool is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("work-order processor is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("response store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(ServiceID, "info")
	}

	rps := cfg.RateLimitRPS
	if rps == 0 {
		rps = 50
	}
	burst := cfg.RateLimitBurst
	if burst == 0 {
		burst = rps * 2
	}

	return &Service{
		pool:           cfg.Pool,
		processor:      cfg.Processor,
		store:          cfg.Store,
		signupInfo:     cfg.SignupInfo,
		logger:         logger,
		rateLimitRPS:   rps,
		rateLimitBurst: burst,
	}, nil
}

// HandleWorkOrderRequest runs one work order end to end: acquire an enclave
// instance, submit the request, fetch the staged response by identifier and
// size, and release the instance. Release runs on every exit path so a failed
// submit or fetch cannot starve the pool.
func (s *Service) HandleWorkOrderRequest(ctx context.Context, sealedSignupData, serializedRequest []byte) (string, error) {
	start := time.Now()

	handle, err := s.pool.Acquire(ctx)
	if err != nil {
		metrics.RecordWorkOrder("pool_exhausted", time.Since(start))
		return "", err
	}
	defer s.pool.Release(handle)

	responseID, size, err := s.processor.Submit(ctx, handle, sealedSignupData, serializedRequest)
	if err != nil {
		metrics.RecordWorkOrder("submit_failed", time.Since(start))
		return "", err
	}

	encoded, err := s.processor.Fetch(handle, responseID, size)
	if err != nil {
		metrics.RecordWorkOrder("fetch_failed", time.Since(start))
		return "", err
	}

	metrics.RecordWorkOrder("success", time.Since(start))
	metrics.SetStagedResponses(s.store.Len())
	return encoded, nil
}

// =============================================================================
// HTTP Surface
// =============================================================================

// Router builds the HTTP router with the service middleware chain.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/work-order", s.handleWorkOrder).Methods(http.MethodPost)
	r.HandleFunc("/v1/signup", s.handleSignup).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	limiter := middleware.NewRateLimiter(s.rateLimitRPS, s.rateLimitBurst, s.logger)
	limiter.StartCleanup(time.Minute)

	r.Use(middleware.LoggingMiddleware(s.logger))
	r.Use(limiter.Handler)

	return metrics.InstrumentHandler(r)
}

type workOrderRequest struct {
	SealedSignupData  string `json:"sealed_signup_data"` // base64
	SerializedRequest string `json:"serialized_request"` // base64
}

type workOrderResponse struct {
	Response string `json:"response"` // base64
}

func (s *Service) handleWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req workOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errors.ServiceError{
			Code:       "bad_request",
			Message:    "invalid JSON body",
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}

	sealed, err := base64.StdEncoding.DecodeString(req.SealedSignupData)
	if err != nil {
		writeError(w, &errors.ServiceError{
			Code:       "bad_request",
			Message:    "sealed_signup_data is not valid base64",
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}
	request, err := base64.StdEncoding.DecodeString(req.SerializedRequest)
	if err != nil {
		writeError(w, &errors.ServiceError{
			Code:       "bad_request",
			Message:    "serialized_request is not valid base64",
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}

	encoded, err := s.HandleWorkOrderRequest(r.Context(), sealed, request)
	if err != nil {
		s.logger.WithContext(r.Context()).WithField("error", err.Error()).
			Warn("work order failed")
		writeError(w, errors.FromError(err))
		return
	}

	writeJSON(w, http.StatusOK, workOrderResponse{Response: encoded})
}

func (s *Service) handleSignup(w http.ResponseWriter, r *http.Request) {
	if s.signupInfo == nil {
		writeError(w, &errors.ServiceError{
			Code:       "not_provisioned",
			Message:    "worker has no signup info",
			HTTPStatus: http.StatusNotFound,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.signupInfo)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"pool_size": s.pool.Size(),
		"available": s.pool.Available(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, serr *errors.ServiceError) {
	writeJSON(w, serr.HTTPStatus, serr)
}
