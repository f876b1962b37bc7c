package identity

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"latchkey/go-backend/internal/keystore"
	"latchkey/go-backend/internal/securestore"
)

// passthroughCodec stands in for the external QR collaborator.
type passthroughCodec struct {
	encoded int
	decoded int
}

func (c *passthroughCodec) Encode(payload []byte) ([]byte, error) {
	c.encoded++
	return append([]byte(nil), payload...), nil
}

func (c *passthroughCodec) Decode(image []byte) ([]byte, error) {
	c.decoded++
	return append([]byte(nil), image...), nil
}

func TestExportFlowTransitions(t *testing.T) {
	m := NewManager(keystore.NewMemoryStore())
	created, err := m.CreateIdentity()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	codec := &passthroughCodec{}
	flow := NewExportFlow(created.Backup, codec)
	if flow.State() != FlowInitial {
		t.Fatalf("unexpected initial state: %v", flow.State())
	}

	// Password before Begin is a protocol violation.
	if _, err := flow.ProvidePassword("pw"); !errors.Is(err, ErrFlowState) {
		t.Fatalf("expected ErrFlowState, got %v", err)
	}

	if err := flow.Begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	result, err := flow.ProvidePassword("correct horse")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if flow.State() != FlowExported {
		t.Fatalf("unexpected state after export: %v", flow.State())
	}
	if len(result.PayloadJSON) == 0 || result.Payload == nil {
		t.Fatal("export produced no payload")
	}
	if codec.encoded != 1 || len(result.QRImage) == 0 {
		t.Fatal("codec should have produced a QR image")
	}
	if err := flow.Complete(); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if flow.State() != FlowReady {
		t.Fatalf("unexpected final state: %v", flow.State())
	}

	// Double Begin is rejected.
	if err := flow.Begin(); !errors.Is(err, ErrFlowState) {
		t.Fatalf("expected ErrFlowState, got %v", err)
	}
}

func TestImportFlowWrongPasswordRetries(t *testing.T) {
	m := NewManager(keystore.NewMemoryStore())
	created, err := m.CreateIdentity()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	export := NewExportFlow(created.Backup, nil)
	if err := export.Begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	result, err := export.ProvidePassword("correct horse")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	target := NewManager(keystore.NewMemoryStore())
	flow := NewImportFlow(target, nil)
	if err := flow.Scan(result.PayloadJSON); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if _, err := flow.ProvidePassword("battery staple"); !errors.Is(err, securestore.ErrWrongPasswordOrCorrupt) {
		t.Fatalf("expected ErrWrongPasswordOrCorrupt, got %v", err)
	}
	if flow.State() != FlowAwaitingPassword {
		t.Fatalf("flow should stay awaiting password, got %v", flow.State())
	}

	// Retry with the right password succeeds against the untouched payload.
	installed, err := flow.ProvidePassword("correct horse")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if flow.State() != FlowReady {
		t.Fatalf("unexpected state after import: %v", flow.State())
	}
	if installed.Fingerprint != created.Identity.Fingerprint {
		t.Fatal("imported identity fingerprint mismatch")
	}
}

func TestImportFlowRejectsGarbageScan(t *testing.T) {
	flow := NewImportFlow(NewManager(keystore.NewMemoryStore()), nil)
	if err := flow.Scan([]byte("not json")); !errors.Is(err, securestore.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if flow.State() != FlowInitial {
		t.Fatalf("failed scan should not advance the flow, got %v", flow.State())
	}
}

// Full backup scenario: generate, export under a password, reset all state,
// re-import from the payload, and confirm the recovered verifying key has
// the same SPKI digest as the original.
func TestExportResetImportRecoversSameIdentity(t *testing.T) {
	store := keystore.NewMemoryStore()
	m := NewManager(store)
	created, err := m.CreateIdentity()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	originalDigest := sha256.Sum256(created.Identity.VerifyingKeySPKI)

	codec := &passthroughCodec{}
	export := NewExportFlow(created.Backup, codec)
	if err := export.Begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	result, err := export.ProvidePassword("correct horse")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if m.Installed() {
		t.Fatal("reset should clear the identity")
	}

	imp := NewImportFlow(m, codec)
	if err := imp.Scan(result.QRImage); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	recovered, err := imp.ProvidePassword("correct horse")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	recoveredDigest := sha256.Sum256(recovered.VerifyingKeySPKI)
	if !bytes.Equal(originalDigest[:], recoveredDigest[:]) {
		t.Fatal("recovered verifying key SPKI digest differs from the original")
	}
}
