package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bavaji9/avalon/internal/config"
	"github.com/Bavaji9/avalon/internal/logging"
	"github.com/Bavaji9/avalon/tcf/signup"
	"github.com/Bavaji9/avalon/tcf/types"
)

func newTestRuntime(t *testing.T, poolSize int) *Runtime {
	t.Helper()

	cfg := config.Default()
	cfg.Enclave.PoolSize = poolSize
	cfg.Enclave.SealingKeyDir = t.TempDir()
	cfg.WorkOrder.ResponseTTLSeconds = 0

	rt, err := Bootstrap(context.Background(), cfg, logging.NewLogger("test", "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

func decodeEnvelope(t *testing.T, encoded string) *signup.ResponseEnvelope {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err, "response must be base64")
	var envelope signup.ResponseEnvelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return &envelope
}

func TestHandleWorkOrderRequest(t *testing.T) {
	rt := newTestRuntime(t, 2)

	request := []byte(`{"in_data":"hello"}`)
	encoded, err := rt.Service.HandleWorkOrderRequest(context.Background(), rt.SealedSignupData, request)
	require.NoError(t, err)

	envelope := decodeEnvelope(t, encoded)
	assert.Equal(t, ServiceID, envelope.WorkerID)
	assert.True(t, bytes.Equal(envelope.Output, request))
	require.NoError(t, signup.VerifyEnvelope(rt.SignupInfo, envelope))

	// Every instance must be back in the pool.
	assert.Equal(t, 2, rt.Pool.Available())
}

func TestFailedSubmitReleasesInstance(t *testing.T) {
	rt := newTestRuntime(t, 1)

	_, err := rt.Service.HandleWorkOrderRequest(context.Background(), []byte("forged sealed data"), []byte("req"))
	var cerr *types.ComputationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, types.StatusAuthFailed, cerr.Status)

	// The instance must not leak; no responses may be staged.
	assert.Equal(t, 1, rt.Pool.Available())
	assert.Equal(t, 0, rt.Store.Len())

	// The pool must still serve requests.
	_, err = rt.Service.HandleWorkOrderRequest(context.Background(), rt.SealedSignupData, []byte("req"))
	require.NoError(t, err)
}

func TestSealedDataValidOnEveryPoolInstance(t *testing.T) {
	rt := newTestRuntime(t, 3)

	// Run more requests than instances so every instance handles at least one.
	for n := 0; n < 9; n++ {
		_, err := rt.Service.HandleWorkOrderRequest(context.Background(), rt.SealedSignupData, []byte("req"))
		require.NoError(t, err)
	}
}

func TestConcurrentCallersOnPoolOfOne(t *testing.T) {
	rt := newTestRuntime(t, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = rt.Service.HandleWorkOrderRequest(context.Background(), rt.SealedSignupData, []byte("req"))
		}(c)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, rt.Pool.Available())
}

// =============================================================================
// HTTP Surface
// =============================================================================

func postWorkOrder(t *testing.T, handler http.Handler, sealed, request []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"sealed_signup_data": base64.StdEncoding.EncodeToString(sealed),
		"serialized_request": base64.StdEncoding.EncodeToString(request),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/work-order", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestWorkOrderEndpoint(t *testing.T) {
	rt := newTestRuntime(t, 1)
	handler := rt.Service.Router()

	rr := postWorkOrder(t, handler, rt.SealedSignupData, []byte("payload"))
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var resp struct {
		Response string `json:"response"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	envelope := decodeEnvelope(t, resp.Response)
	require.NoError(t, signup.VerifyEnvelope(rt.SignupInfo, envelope))
}

func TestWorkOrderEndpointRejectsBadBase64(t *testing.T) {
	rt := newTestRuntime(t, 1)
	handler := rt.Service.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/work-order",
		bytes.NewReader([]byte(`{"sealed_signup_data":"%%%","serialized_request":"aGk="}`)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWorkOrderEndpointComputationFailure(t *testing.T) {
	rt := newTestRuntime(t, 1)
	handler := rt.Service.Router()

	rr := postWorkOrder(t, handler, []byte("forged"), []byte("payload"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var serr struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &serr))
	assert.Equal(t, "computation_failed", serr.Code)
}

func TestSignupEndpoint(t *testing.T) {
	rt := newTestRuntime(t, 1)
	handler := rt.Service.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/signup", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var info signup.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, rt.SignupInfo.VerifyingKey, info.VerifyingKey)
}

func TestHealthEndpoint(t *testing.T) {
	rt := newTestRuntime(t, 2)
	handler := rt.Service.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var health struct {
		Status   string `json:"status"`
		PoolSize int    `json:"pool_size"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.PoolSize)
}

func TestServiceRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
