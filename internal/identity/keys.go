// Package identity owns the keypair lifecycle: generation, installation of
// the non-exportable operational signing key, and import of backup material.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58/base58"

	"latchkey/go-backend/internal/curve"
	"latchkey/go-backend/pkg/models"
)

var (
	ErrInvalidKeyMaterial = errors.New("invalid key material")
	ErrNotExtractable     = errors.New("operational signing key is not extractable")
)

const namedCurve = "P-384"

// SigningKey is a sign-only handle. Once installed for operational use the
// private scalar can no longer leave through this handle; only the original
// extractable generation key may be exported, and only for wrapping.
type SigningKey struct {
	priv        *ecdsa.PrivateKey
	extractable bool
}

// SignES384 signs the ASCII signing string with ECDSA P-384 / SHA-384 and
// returns the raw r‖s JOSE signature.
func (k *SigningKey) SignES384(signingString string) ([]byte, error) {
	return jwt.SigningMethodES384.Sign(signingString, k.priv)
}

// Export returns the JWK-like private components. It fails on an installed
// operational key.
func (k *SigningKey) Export() (models.KeyMaterial, error) {
	if !k.extractable {
		return models.KeyMaterial{}, ErrNotExtractable
	}
	return materialFromPrivate(k.priv), nil
}

func (k *SigningKey) Extractable() bool { return k.extractable }

func (k *SigningKey) Public() *VerifyingKey {
	return &VerifyingKey{pub: &k.priv.PublicKey}
}

// VerifyingKey is a verify-only handle; always exportable.
type VerifyingKey struct {
	pub *ecdsa.PublicKey
}

func (k *VerifyingKey) ECDSA() *ecdsa.PublicKey { return k.pub }

// SPKI returns the standard binary interchange encoding of the public key.
func (k *VerifyingKey) SPKI() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(k.pub)
}

// Fingerprint is the short human-checkable form: lk1 + base58(SHA-256(SPKI)).
func (k *VerifyingKey) Fingerprint() (string, error) {
	spki, err := k.SPKI()
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(spki)
	return "lk1" + base58.Encode(h[:]), nil
}

// ParseVerifyingKeySPKI decodes a base64url SPKI blob into a verifying key
// handle, rejecting anything that is not an EC P-384 public key.
func ParseVerifyingKeySPKI(encoded string) (*VerifyingKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return nil, fmt.Errorf("%w: not an EC P-384 public key", ErrInvalidKeyMaterial)
	}
	return &VerifyingKey{pub: pub}, nil
}

// EncodeVerifyingKeySPKI is the inverse of ParseVerifyingKeySPKI.
func EncodeVerifyingKeySPKI(k *VerifyingKey) (string, error) {
	spki, err := k.SPKI()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(spki), nil
}

func materialFromPrivate(priv *ecdsa.PrivateKey) models.KeyMaterial {
	return models.KeyMaterial{
		Crv: namedCurve,
		X:   encodeCoordinate(priv.PublicKey.X),
		Y:   encodeCoordinate(priv.PublicKey.Y),
		D:   encodeCoordinate(priv.D),
	}
}

// privateFromMaterial rebuilds a private key from JWK-like components. The
// public point is taken from embedded x/y when present, otherwise re-derived
// from the scalar by the manual derivation path.
func privateFromMaterial(mat models.KeyMaterial) (*ecdsa.PrivateKey, error) {
	if mat.Crv != namedCurve {
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKeyMaterial, mat.Crv)
	}
	if !mat.IsPrivate() {
		return nil, fmt.Errorf("%w: missing private scalar", ErrInvalidKeyMaterial)
	}
	dBytes, err := decodeComponent(mat.D)
	if err != nil {
		return nil, err
	}

	var x, y *big.Int
	if mat.HasEmbeddedPublic() {
		xBytes, err := decodeComponent(mat.X)
		if err != nil {
			return nil, err
		}
		yBytes, err := decodeComponent(mat.Y)
		if err != nil {
			return nil, err
		}
		x = new(big.Int).SetBytes(xBytes)
		y = new(big.Int).SetBytes(yBytes)
		if !elliptic.P384().IsOnCurve(x, y) {
			return nil, fmt.Errorf("%w: embedded point is not on P-384", ErrInvalidKeyMaterial)
		}
	} else {
		x, y, err = curve.DerivePoint(dBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
	}

	d := new(big.Int).SetBytes(dBytes)
	if d.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero private scalar", ErrInvalidKeyMaterial)
	}
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P384(), X: x, Y: y},
		D:         d,
	}, nil
}

func generatePrivateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}

func encodeCoordinate(v *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(v.FillBytes(make([]byte, curve.CoordinateSize)))
}

func decodeComponent(s string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty component", ErrInvalidKeyMaterial)
	}
	return raw, nil
}
