package securestore

import (
	"strings"

	"github.com/tyler-smith/go-bip39"
)

const suggestedPasswordWords = 6

// SuggestBackupPassword returns a randomly drawn six-word phrase from the
// BIP-39 English wordlist, offered to the user at export time. It is a
// password suggestion only; the wrap KDF treats it like any other password
// and nothing downstream expects mnemonic semantics.
func SuggestBackupPassword() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}
	words := strings.Fields(mnemonic)
	return strings.Join(words[:suggestedPasswordWords], " "), nil
}
