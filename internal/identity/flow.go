package identity

import (
	"encoding/json"
	"errors"
	"fmt"

	"latchkey/go-backend/internal/securestore"
	"latchkey/go-backend/pkg/models"
)

var ErrFlowState = errors.New("operation is not valid in the current flow state")

// QRCodec is the external byte-to-image collaborator. Implementations live
// outside this repo; tests use a passthrough stub.
type QRCodec interface {
	Encode(payload []byte) ([]byte, error)
	Decode(image []byte) ([]byte, error)
}

type FlowState int

const (
	FlowInitial FlowState = iota
	FlowAwaitingPassword
	FlowExported
	FlowReady
)

func (s FlowState) String() string {
	switch s {
	case FlowInitial:
		return "initial"
	case FlowAwaitingPassword:
		return "awaiting_password"
	case FlowExported:
		return "exported"
	case FlowReady:
		return "ready"
	default:
		return fmt.Sprintf("flow_state(%d)", int(s))
	}
}

// ExportFlow drives the backup export protocol as an explicit state machine:
// Initial → AwaitingPassword → Exported → Ready. Each transition takes its
// input explicitly and returns the effect; no rendering-layer state is
// involved.
type ExportFlow struct {
	state  FlowState
	backup models.KeyMaterial
	codec  QRCodec
}

// ExportResult is the effect of a completed export transition.
type ExportResult struct {
	Payload     *models.WrappedKeyPayload
	PayloadJSON []byte
	// QRImage is nil when no codec is attached.
	QRImage []byte
}

func NewExportFlow(backup models.KeyMaterial, codec QRCodec) *ExportFlow {
	return &ExportFlow{state: FlowInitial, backup: backup, codec: codec}
}

func (f *ExportFlow) State() FlowState { return f.state }

// Begin moves the flow to AwaitingPassword.
func (f *ExportFlow) Begin() error {
	if f.state != FlowInitial {
		return fmt.Errorf("%w: begin in %s", ErrFlowState, f.state)
	}
	f.state = FlowAwaitingPassword
	return nil
}

// ProvidePassword wraps the backup material and produces the transportable
// payload. The extractable material is dropped once wrapped.
func (f *ExportFlow) ProvidePassword(password string) (*ExportResult, error) {
	if f.state != FlowAwaitingPassword {
		return nil, fmt.Errorf("%w: provide password in %s", ErrFlowState, f.state)
	}
	payload, err := securestore.Wrap(f.backup, password)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	result := &ExportResult{Payload: payload, PayloadJSON: payloadJSON}
	if f.codec != nil {
		image, err := f.codec.Encode(payloadJSON)
		if err != nil {
			return nil, err
		}
		result.QRImage = image
	}
	f.backup = models.KeyMaterial{}
	f.state = FlowExported
	return result, nil
}

// Complete acknowledges that the payload left the device.
func (f *ExportFlow) Complete() error {
	if f.state != FlowExported {
		return fmt.Errorf("%w: complete in %s", ErrFlowState, f.state)
	}
	f.state = FlowReady
	return nil
}

// ImportFlow drives recovery from a scanned backup: Initial (scan) →
// AwaitingPassword (unwrap, with retry on a wrong password) → Ready.
type ImportFlow struct {
	state   FlowState
	manager *Manager
	codec   QRCodec
	payload *models.WrappedKeyPayload
}

func NewImportFlow(manager *Manager, codec QRCodec) *ImportFlow {
	return &ImportFlow{state: FlowInitial, manager: manager, codec: codec}
}

func (f *ImportFlow) State() FlowState { return f.state }

// Scan accepts the captured QR image (or the raw payload JSON when no codec
// is attached) and parses the wrapped payload.
func (f *ImportFlow) Scan(image []byte) error {
	if f.state != FlowInitial {
		return fmt.Errorf("%w: scan in %s", ErrFlowState, f.state)
	}
	payloadJSON := image
	if f.codec != nil {
		decoded, err := f.codec.Decode(image)
		if err != nil {
			return err
		}
		payloadJSON = decoded
	}
	var payload models.WrappedKeyPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return fmt.Errorf("%w: %v", securestore.ErrInvalidPayload, err)
	}
	f.payload = &payload
	f.state = FlowAwaitingPassword
	return nil
}

// ProvidePassword attempts the unwrap and, on success, installs the
// recovered identity. A wrong password keeps the flow in AwaitingPassword
// with the still-wrapped payload untouched, so the user can retry.
func (f *ImportFlow) ProvidePassword(password string) (models.Identity, error) {
	if f.state != FlowAwaitingPassword {
		return models.Identity{}, fmt.Errorf("%w: provide password in %s", ErrFlowState, f.state)
	}
	mat, err := securestore.Unwrap(f.payload, password)
	if err != nil {
		return models.Identity{}, err
	}
	installed, err := f.manager.ImportFromKeyMaterial(mat)
	if err != nil {
		return models.Identity{}, err
	}
	f.payload = nil
	f.state = FlowReady
	return installed, nil
}
