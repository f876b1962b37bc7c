package models

// KeyMaterial is the JWK-like representation of an EC key's numeric
// components. Coordinates and the private scalar are base64url (raw, no
// padding) encodings of fixed-width big-endian values.
type KeyMaterial struct {
	Crv string `json:"crv"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	D   string `json:"d,omitempty"`
}

// HasEmbeddedPublic reports whether the material carries its own public
// point. When it does not, the point is re-derived from the private scalar.
func (m KeyMaterial) HasEmbeddedPublic() bool {
	return m.X != "" && m.Y != ""
}

// IsPrivate reports whether the material includes the private scalar.
func (m KeyMaterial) IsPrivate() bool {
	return m.D != ""
}

// WrappedKeyPayload is the password-encrypted, transportable form of an
// extractable private key. It is serialized to JSON and carried out-of-band
// (typically inside a QR code); this system never persists it.
type WrappedKeyPayload struct {
	Salt             []byte   `json:"salt"`
	IV               []byte   `json:"iv"`
	CipherText       []byte   `json:"cipherText"`
	KeyAlgorithmName string   `json:"keyAlgorithmName"`
	NamedCurve       string   `json:"namedCurve"`
	KeyExtractable   bool     `json:"keyExtractable"`
	KeyUsages        []string `json:"keyUsages"`
}

// Identity is the public description of an installed identity.
type Identity struct {
	Fingerprint      string `json:"fingerprint"`
	VerifyingKeySPKI []byte `json:"verifying_key_spki"`
}
