package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"latchkey/go-backend/internal/keystore"
	"latchkey/go-backend/pkg/models"
)

var (
	ErrNoIdentity        = errors.New("no identity is installed")
	ErrOperationInFlight = errors.New("another key creation or import is in flight")
)

// Manager installs and serves the single identity slot. At most one
// create-or-import runs at a time; a second attempt before the keystore
// writes complete is rejected rather than interleaved.
type Manager struct {
	mu    sync.Mutex
	store keystore.Store
	busy  bool

	signing   *SigningKey
	verifying *VerifyingKey
}

// CreatedIdentity is the result of fresh generation. Backup carries the
// extractable private components exactly once, for the wrapping step; the
// installed operational key can no longer produce them.
type CreatedIdentity struct {
	Identity models.Identity
	Backup   models.KeyMaterial
}

func NewManager(store keystore.Store) *Manager {
	return &Manager{store: store}
}

// Bootstrap rehydrates handles from a previously committed keystore.
func (m *Manager) Bootstrap() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	privRec, ok, err := m.store.Get(keystore.UserPrivateKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	pubRec, ok, err := m.store.Get(keystore.UserPublicKey)
	if err != nil {
		return err
	}
	if !ok {
		// A private record without its public counterpart means a creation
		// attempt died between writes; the identity is not installed.
		return nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(privRec.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrUnavailable, err)
	}
	priv, ok2 := parsed.(*ecdsa.PrivateKey)
	if !ok2 || priv.Curve != elliptic.P384() {
		return fmt.Errorf("%w: stored private key is not EC P-384", keystore.ErrUnavailable)
	}
	parsedPub, err := x509.ParsePKIXPublicKey(pubRec.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrUnavailable, err)
	}
	pub, ok2 := parsedPub.(*ecdsa.PublicKey)
	if !ok2 {
		return fmt.Errorf("%w: stored public key is not EC", keystore.ErrUnavailable)
	}

	m.signing = &SigningKey{priv: priv, extractable: privRec.Extractable}
	m.verifying = &VerifyingKey{pub: pub}
	return nil
}

// CreateIdentity generates a fresh P-384 keypair, installs the operational
// sign-only handle and commits both handles to the keystore. The keystore
// writes are all-or-nothing from the caller's perspective: if the second
// write fails the first is rolled back and no identity is installed.
func (m *Manager) CreateIdentity() (*CreatedIdentity, error) {
	release, err := m.acquireSlot()
	if err != nil {
		return nil, err
	}
	defer release()

	priv, err := generatePrivateKey()
	if err != nil {
		return nil, err
	}
	backup := materialFromPrivate(priv)

	identity, err := m.install(priv)
	if err != nil {
		return nil, err
	}
	return &CreatedIdentity{Identity: identity, Backup: backup}, nil
}

// ImportFromKeyMaterial validates backup components and installs them as the
// identity, deriving the public point when the material does not embed one.
func (m *Manager) ImportFromKeyMaterial(mat models.KeyMaterial) (models.Identity, error) {
	release, err := m.acquireSlot()
	if err != nil {
		return models.Identity{}, err
	}
	defer release()

	priv, err := privateFromMaterial(mat)
	if err != nil {
		return models.Identity{}, err
	}
	return m.install(priv)
}

// SigningKey returns the installed operational handle.
func (m *Manager) SigningKey() (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signing == nil {
		return nil, ErrNoIdentity
	}
	return m.signing, nil
}

// VerifyingKey returns the installed verifying handle.
func (m *Manager) VerifyingKey() (*VerifyingKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifying == nil {
		return nil, ErrNoIdentity
	}
	return m.verifying, nil
}

func (m *Manager) Installed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signing != nil && m.verifying != nil
}

// Reset drops the installed handles and every keystore record.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signing = nil
	m.verifying = nil
	return m.store.Reset()
}

// acquireSlot enforces the one-in-flight discipline.
func (m *Manager) acquireSlot() (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return nil, ErrOperationInFlight
	}
	m.busy = true
	return func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}, nil
}

func (m *Manager) install(priv *ecdsa.PrivateKey) (models.Identity, error) {
	operational := &SigningKey{priv: priv, extractable: false}
	verifying := operational.Public()

	spki, err := verifying.SPKI()
	if err != nil {
		return models.Identity{}, err
	}
	fingerprint, err := verifying.Fingerprint()
	if err != nil {
		return models.Identity{}, err
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return models.Identity{}, err
	}

	if err := m.store.Put(keystore.UserPrivateKey, &keystore.Record{
		Type:        keystore.RecordTypePrivate,
		Data:        pkcs8,
		Extractable: false,
		Usages:      []string{"sign"},
	}); err != nil {
		return models.Identity{}, err
	}
	if err := m.store.Put(keystore.UserPublicKey, &keystore.Record{
		Type:        keystore.RecordTypePublic,
		Data:        spki,
		Extractable: true,
		Usages:      []string{"verify"},
	}); err != nil {
		// Second write failing means the identity is not installed.
		_ = m.store.Delete(keystore.UserPrivateKey)
		return models.Identity{}, err
	}

	m.mu.Lock()
	m.signing = operational
	m.verifying = verifying
	m.mu.Unlock()

	return models.Identity{Fingerprint: fingerprint, VerifyingKeySPKI: spki}, nil
}
