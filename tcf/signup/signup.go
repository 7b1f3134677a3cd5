// Package signup provides worker provisioning. It generates the worker's
// signing identity inside an enclave instance and seals the resulting record
// so that only that instance can use it to authorize work orders.
package signup

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Bavaji9/avalon/tcf/enclave"
	"github.com/Bavaji9/avalon/tcf/types"
)

// Record is the plaintext provisioning record. It exists in the clear only
// inside the enclave; outside, callers ever see only the sealed form.
type Record struct {
	WorkerID   string    `json:"worker_id"`
	SigningKey []byte    `json:"signing_key"` // EC private key, SEC1 DER
	CreatedAt  time.Time `json:"created_at"`
}

// Info is the public half of a signup, safe to publish.
type Info struct {
	WorkerID     string `json:"worker_id"`
	VerifyingKey string `json:"verifying_key"` // compressed point, hex
	Measurement  string `json:"measurement"`   // MRENCLAVE, hex
}

// CreateSignupData provisions a worker identity on the given instance.
// It returns the public signup info and the sealed record blob that callers
// pass back with every work order.
func CreateSignupData(ctx context.Context, inst *enclave.Instance, workerID string) (*Info, []byte, error) {
	if workerID == "" {
		return nil, nil, fmt.Errorf("worker_id is required")
	}
	if err := inst.Health(ctx); err != nil {
		return nil, nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signing key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal signing key: %w", err)
	}

	record := Record{
		WorkerID:   workerID,
		SigningKey: der,
		CreatedAt:  time.Now().UTC(),
	}

	plaintext, err := json.Marshal(record)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal signup record: %w", err)
	}
	defer enclave.ZeroBytes(plaintext)

	sealed, err := inst.Seal(plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("seal signup record: %w", err)
	}

	measurement, err := inst.GetMeasurement()
	if err != nil {
		return nil, nil, fmt.Errorf("get measurement: %w", err)
	}

	info := &Info{
		WorkerID:     workerID,
		VerifyingKey: hex.EncodeToString(elliptic.MarshalCompressed(elliptic.P256(), key.X, key.Y)),
		Measurement:  hex.EncodeToString(measurement),
	}

	return info, sealed, nil
}

// ParseRecord decodes a plaintext signup record.
func ParseRecord(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode signup record: %w", err)
	}
	if record.WorkerID == "" || len(record.SigningKey) == 0 {
		return nil, fmt.Errorf("incomplete signup record")
	}
	return &record, nil
}

// =============================================================================
// Default Workload Executor
// =============================================================================

// ResponseEnvelope is the serialized response produced for each work order.
// The signature covers the request digest with the worker's signing key, so
// callers can verify the response came from the provisioned worker.
type ResponseEnvelope struct {
	WorkerID      string `json:"worker_id"`
	RequestDigest string `json:"request_digest"` // sha256 of payload, hex
	Signature     string `json:"signature"`      // ASN.1 ECDSA, hex
	Output        []byte `json:"output"`
}

// WorkloadExecutor is the default trusted workload. It authorizes against
// the signup record and signs the request digest. The work-order payload is
// passed through as the output; real workloads replace this executor.
type WorkloadExecutor struct{}

// Execute implements enclave.Executor.
func (WorkloadExecutor) Execute(ctx context.Context, req enclave.Request) ([]byte, error) {
	record, err := ParseRecord(req.SignupData)
	if err != nil {
		return nil, types.NewComputationError(types.StatusAuthFailed, err)
	}

	key, err := x509.ParseECPrivateKey(record.SigningKey)
	if err != nil {
		return nil, types.NewComputationError(types.StatusCryptoError,
			fmt.Errorf("parse signing key: %w", err))
	}

	digest := sha256.Sum256(req.Payload)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, types.NewComputationError(types.StatusCryptoError,
			fmt.Errorf("sign request digest: %w", err))
	}

	envelope := ResponseEnvelope{
		WorkerID:      record.WorkerID,
		RequestDigest: hex.EncodeToString(digest[:]),
		Signature:     hex.EncodeToString(sig),
		Output:        req.Payload,
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return nil, types.NewComputationError(types.StatusUnknownError, err)
	}
	return out, nil
}

// VerifyEnvelope checks a response envelope against the public signup info.
func VerifyEnvelope(info *Info, envelope *ResponseEnvelope) error {
	keyBytes, err := hex.DecodeString(info.VerifyingKey)
	if err != nil {
		return fmt.Errorf("decode verifying key: %w", err)
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), keyBytes)
	if x == nil {
		return fmt.Errorf("invalid verifying key")
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	digest, err := hex.DecodeString(envelope.RequestDigest)
	if err != nil {
		return fmt.Errorf("decode request digest: %w", err)
	}
	sig, err := hex.DecodeString(envelope.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	if !ecdsa.VerifyASN1(pub, digest, sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
