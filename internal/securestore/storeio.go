package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	storeEnvelopeVersion = 1
	storeFilePrefix      = "LKSEC1\n"
	storeKDFName         = "pbkdf2-sha256"
)

var (
	ErrStoreAuthFailed = errors.New("securestore authentication failed")
	ErrStoreInvalid    = errors.New("securestore envelope is invalid")
)

// storeEnvelope is the at-rest form of encrypted state snapshots. It reuses
// the key-wrap KDF so a deployment only has one password-hardening knob.
type storeEnvelope struct {
	Version    uint32 `json:"version"`
	KDF        string `json:"kdf"`
	Iterations uint32 `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Encrypt seals a state snapshot under the store secret.
func Encrypt(secret string, plaintext []byte) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrPasswordRequired
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveWrappingKey(secret, salt)
	defer zeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, ivSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := storeEnvelope{
		Version:    storeEnvelopeVersion,
		KDF:        storeKDFName,
		Iterations: pbkdf2Iterations,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(storeFilePrefix), raw...), nil
}

// Decrypt opens a snapshot previously produced by Encrypt.
func Decrypt(secret string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), storeFilePrefix) {
		return nil, ErrStoreInvalid
	}
	var env storeEnvelope
	if err := json.Unmarshal(data[len(storeFilePrefix):], &env); err != nil {
		return nil, ErrStoreInvalid
	}
	if env.Version != storeEnvelopeVersion || env.KDF != storeKDFName {
		return nil, ErrStoreInvalid
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != ivSize {
		return nil, ErrStoreInvalid
	}
	key := deriveWrappingKey(secret, env.Salt)
	defer zeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrStoreAuthFailed
	}
	return plaintext, nil
}

// ReadDecryptedFile reads and decrypts file content with the provided secret.
func ReadDecryptedFile(path, secret string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(secret, raw)
}

// WriteEncryptedJSON marshals, encrypts and writes a JSON snapshot.
func WriteEncryptedJSON(path, secret string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	encrypted, err := Encrypt(secret, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, encrypted, 0o600)
}
