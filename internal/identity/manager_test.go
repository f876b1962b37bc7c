package identity

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"latchkey/go-backend/internal/keystore"
	"latchkey/go-backend/pkg/models"
)

func TestCreateIdentityInstallsAndCommits(t *testing.T) {
	store := keystore.NewMemoryStore()
	m := NewManager(store)

	created, err := m.CreateIdentity()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !m.Installed() {
		t.Fatal("identity should be installed after create")
	}
	if created.Backup.D == "" || created.Backup.X == "" || created.Backup.Y == "" {
		t.Fatalf("backup material incomplete: %+v", created.Backup)
	}
	if created.Identity.Fingerprint == "" || len(created.Identity.VerifyingKeySPKI) == 0 {
		t.Fatalf("identity description incomplete: %+v", created.Identity)
	}

	for _, name := range []string{keystore.UserPrivateKey, keystore.UserPublicKey} {
		if _, ok, _ := store.Get(name); !ok {
			t.Fatalf("keystore missing %s", name)
		}
	}
}

func TestOperationalKeyIsNotExportable(t *testing.T) {
	m := NewManager(keystore.NewMemoryStore())
	if _, err := m.CreateIdentity(); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	key, err := m.SigningKey()
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	if key.Extractable() {
		t.Fatal("operational key must not be extractable")
	}
	if _, err := key.Export(); !errors.Is(err, ErrNotExtractable) {
		t.Fatalf("expected ErrNotExtractable, got %v", err)
	}
}

type flakyStore struct {
	keystore.Store
	failPut string
}

func (s *flakyStore) Put(name string, rec *keystore.Record) error {
	if name == s.failPut {
		return fmt.Errorf("%w: simulated write failure", keystore.ErrUnavailable)
	}
	return s.Store.Put(name, rec)
}

func TestCreateIdentitySecondWriteFailureLeavesNothing(t *testing.T) {
	inner := keystore.NewMemoryStore()
	store := &flakyStore{Store: inner, failPut: keystore.UserPublicKey}
	m := NewManager(store)

	if _, err := m.CreateIdentity(); !errors.Is(err, keystore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if m.Installed() {
		t.Fatal("identity must not be installed after a failed second write")
	}
	if _, ok, _ := inner.Get(keystore.UserPrivateKey); ok {
		t.Fatal("first write should be rolled back")
	}
}

type gateStore struct {
	keystore.Store
	enter chan struct{}
	exit  chan struct{}
}

func (s *gateStore) Put(name string, rec *keystore.Record) error {
	if name == keystore.UserPrivateKey {
		s.enter <- struct{}{}
		<-s.exit
	}
	return s.Store.Put(name, rec)
}

func TestSecondConcurrentCreateIsRejected(t *testing.T) {
	store := &gateStore{Store: keystore.NewMemoryStore(), enter: make(chan struct{}), exit: make(chan struct{})}
	m := NewManager(store)

	done := make(chan error, 1)
	go func() {
		_, err := m.CreateIdentity()
		done <- err
	}()
	<-store.enter

	if _, err := m.CreateIdentity(); !errors.Is(err, ErrOperationInFlight) {
		t.Fatalf("expected ErrOperationInFlight, got %v", err)
	}
	close(store.exit)
	if err := <-done; err != nil {
		t.Fatalf("first create failed: %v", err)
	}
}

func TestImportRejectsBadMaterial(t *testing.T) {
	m := NewManager(keystore.NewMemoryStore())
	cases := map[string]models.KeyMaterial{
		"missing scalar":    {Crv: "P-384", X: "AQ", Y: "AQ"},
		"unsupported curve": {Crv: "P-256", D: "AQ"},
		"empty":             {},
		"bad encoding":      {Crv: "P-384", D: "!!!not-base64url!!!"},
	}
	for name, mat := range cases {
		if _, err := m.ImportFromKeyMaterial(mat); !errors.Is(err, ErrInvalidKeyMaterial) {
			t.Fatalf("%s: expected ErrInvalidKeyMaterial, got %v", name, err)
		}
	}
}

func TestImportWithoutEmbeddedPublicDerivesPoint(t *testing.T) {
	store := keystore.NewMemoryStore()
	m := NewManager(store)
	created, err := m.CreateIdentity()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	other := NewManager(keystore.NewMemoryStore())
	stripped := models.KeyMaterial{Crv: created.Backup.Crv, D: created.Backup.D}
	imported, err := other.ImportFromKeyMaterial(stripped)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !bytes.Equal(imported.VerifyingKeySPKI, created.Identity.VerifyingKeySPKI) {
		t.Fatal("derived public key diverges from the original")
	}
}

func TestBootstrapRehydratesHandles(t *testing.T) {
	store := keystore.NewMemoryStore()
	m := NewManager(store)
	created, err := m.CreateIdentity()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	fresh := NewManager(store)
	if err := fresh.Bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if !fresh.Installed() {
		t.Fatal("bootstrap should rehydrate the identity")
	}
	key, err := fresh.SigningKey()
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	if key.Extractable() {
		t.Fatal("rehydrated operational key must stay non-extractable")
	}
	vk, err := fresh.VerifyingKey()
	if err != nil {
		t.Fatalf("verifying key: %v", err)
	}
	spki, err := vk.SPKI()
	if err != nil {
		t.Fatalf("spki: %v", err)
	}
	if !bytes.Equal(spki, created.Identity.VerifyingKeySPKI) {
		t.Fatal("rehydrated verifying key mismatch")
	}
}

func TestBootstrapIgnoresHalfWrittenIdentity(t *testing.T) {
	store := keystore.NewMemoryStore()
	m := NewManager(store)
	if _, err := m.CreateIdentity(); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.Delete(keystore.UserPublicKey); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	fresh := NewManager(store)
	if err := fresh.Bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if fresh.Installed() {
		t.Fatal("half-written keypair must not count as installed")
	}
}

func TestResetClearsIdentity(t *testing.T) {
	store := keystore.NewMemoryStore()
	m := NewManager(store)
	if _, err := m.CreateIdentity(); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if m.Installed() {
		t.Fatal("identity should be gone after reset")
	}
	if _, err := m.SigningKey(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}
