package workorder

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/Bavaji9/avalon/tcf/enclave"
	"github.com/Bavaji9/avalon/tcf/types"
)

// Processor drives work orders through a held enclave instance and stages
// their responses for size-validated retrieval.
//
// The submit/fetch split is deliberate: the untrusted side learns the response
// size from Submit so it can validate the buffer it presents at Fetch, which
// is required when copying data out across the trust boundary.
type Processor struct {
	store *Store
}

// NewProcessor creates a processor staging responses in the given store.
func NewProcessor(store *Store) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("response store is required")
	}
	return &Processor{store: store}, nil
}

// Submit runs the trusted computation for one work order on the instance held
// by handle and stages the raw response. It returns the response identifier
// and the staged size. On computation failure nothing is staged and no
// identifier is minted.
func (p *Processor) Submit(ctx context.Context, handle *enclave.Handle, sealedSignupData, serializedRequest []byte) (types.ResponseID, int, error) {
	inst := heldInstance(handle)
	if inst == nil {
		return 0, 0, types.ErrInvalidHandle
	}
	if len(sealedSignupData) == 0 {
		return 0, 0, types.NewComputationError(types.StatusInvalidWorkload,
			fmt.Errorf("sealed signup data is empty"))
	}
	if len(serializedRequest) == 0 {
		return 0, 0, types.NewComputationError(types.StatusInvalidWorkload,
			fmt.Errorf("serialized request is empty"))
	}

	response, err := inst.ProcessWorkOrder(ctx, sealedSignupData, serializedRequest)
	if err != nil {
		return 0, 0, err
	}

	id := p.store.Put(response)
	return id, len(response), nil
}

// Fetch retrieves a staged response by identifier, validating that the
// presented size matches the staged size before releasing any data. A
// successful fetch consumes the entry; the response is returned base64
// encoded.
func (p *Processor) Fetch(handle *enclave.Handle, id types.ResponseID, expectedSize int) (string, error) {
	if heldInstance(handle) == nil {
		return "", types.ErrInvalidHandle
	}

	size, err := p.store.Stat(id)
	if err != nil {
		return "", err
	}
	if size != expectedSize {
		// Entry stays staged; no partial data crosses the boundary.
		return "", fmt.Errorf("%w: staged %d bytes, caller expects %d",
			types.ErrSizeMismatch, size, expectedSize)
	}

	data, err := p.store.Take(id)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// heldInstance returns the instance behind a handle, or nil when the handle
// is nil or no longer held.
func heldInstance(handle *enclave.Handle) *enclave.Instance {
	if handle == nil {
		return nil
	}
	return handle.Instance()
}
