// Package securestore performs password-authenticated wrapping of key
// material and encrypted-at-rest persistence for state snapshots.
package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"latchkey/go-backend/pkg/models"
)

var (
	ErrWrongPasswordOrCorrupt = errors.New("wrong password or corrupt payload")
	ErrInvalidPayload         = errors.New("wrapped key payload is invalid")
	ErrPasswordRequired       = errors.New("password is required")
	ErrNotWrappable           = errors.New("only private key material can be wrapped")
)

const (
	saltSize         = 16
	ivSize           = 12
	wrappingKeySize  = 32
	pbkdf2Iterations = 100000

	wrapAlgorithmName = "ECDSA"
)

// Wrap derives a fresh wrapping key from the password and seals the
// material's canonical JSON form with AES-256-GCM. Each call draws a new
// salt and IV, so two wraps of the same key never produce equal payloads.
// The algorithm name, curve and usage list ride along in clear; they are
// parameters, not secrets.
func Wrap(mat models.KeyMaterial, password string) (*models.WrappedKeyPayload, error) {
	if strings.TrimSpace(password) == "" {
		return nil, ErrPasswordRequired
	}
	if !mat.IsPrivate() {
		return nil, ErrNotWrappable
	}
	plaintext, err := json.Marshal(mat)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveWrappingKey(password, salt)
	defer zeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	cipherText := aead.Seal(nil, iv, plaintext, nil)

	return &models.WrappedKeyPayload{
		Salt:             salt,
		IV:               iv,
		CipherText:       cipherText,
		KeyAlgorithmName: wrapAlgorithmName,
		NamedCurve:       mat.Crv,
		KeyExtractable:   true,
		KeyUsages:        []string{"sign"},
	}, nil
}

// Unwrap re-derives the wrapping key from the payload's own salt and opens
// the ciphertext. A failed GCM tag check is the only signal available, so a
// wrong password and a tampered payload are indistinguishable here; both
// surface as ErrWrongPasswordOrCorrupt. The payload itself is never mutated,
// which keeps the retry path open after a mistyped password.
func Unwrap(payload *models.WrappedKeyPayload, password string) (models.KeyMaterial, error) {
	if strings.TrimSpace(password) == "" {
		return models.KeyMaterial{}, ErrPasswordRequired
	}
	if payload == nil || len(payload.Salt) != saltSize || len(payload.IV) != ivSize || len(payload.CipherText) == 0 {
		return models.KeyMaterial{}, ErrInvalidPayload
	}
	if payload.KeyAlgorithmName != wrapAlgorithmName {
		return models.KeyMaterial{}, ErrInvalidPayload
	}

	key := deriveWrappingKey(password, payload.Salt)
	defer zeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return models.KeyMaterial{}, err
	}
	plaintext, err := aead.Open(nil, payload.IV, payload.CipherText, nil)
	if err != nil {
		return models.KeyMaterial{}, ErrWrongPasswordOrCorrupt
	}

	var mat models.KeyMaterial
	if err := json.Unmarshal(plaintext, &mat); err != nil {
		return models.KeyMaterial{}, ErrInvalidPayload
	}
	if !mat.IsPrivate() {
		return models.KeyMaterial{}, ErrInvalidPayload
	}
	return mat, nil
}

func deriveWrappingKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, wrappingKeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
