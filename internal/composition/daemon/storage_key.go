package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const storageSecretEnv = "LATCHKEY_STORE_SECRET"

// StorageSecret resolves the secret that encrypts the keystore at rest.
// Resolution order: environment, explicit config value, data-dir key file,
// and finally a fresh generated secret persisted next to the data.
func StorageSecret(dataDir, configured string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(storageSecretEnv)); secret != "" {
		return secret, nil
	}
	if secret := strings.TrimSpace(configured); secret != "" {
		return secret, nil
	}

	keyPath := filepath.Join(dataDir, "storage.key")
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := writeStorageKey(keyPath, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func writeStorageKey(keyPath, secret string) error {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(secret), 0o600)
}
