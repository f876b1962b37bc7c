// Package logintoken issues and verifies the signed, time-bound assertion a
// holder presents to a callback endpoint. The token is three base64url
// segments header.payload.signature with a fixed ES384 JWT header; the
// signature covers exactly the ASCII bytes of header.payload.
package logintoken

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken       = errors.New("login token is malformed")
	ErrUnsupportedAlgorithm = errors.New("login token algorithm is unsupported")
	ErrTokenExpired         = errors.New("login token is expired")
	ErrInvalidSignature     = errors.New("login token signature is invalid")
)

// TokenTTL is the fixed validity window: exp = iat + 86400.
const TokenTTL = 24 * time.Hour

const (
	headerAlg = "ES384"
	headerTyp = "JWT"
)

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims binds the token to a single callback URL. The verifying key is NOT
// embedded as an iss claim; it travels out-of-band as the pubKey parameter
// next to the token, and callers must transmit both.
type Claims struct {
	Sub     string `json:"sub"`
	Iat     int64  `json:"iat"`
	Exp     int64  `json:"exp"`
	CstmDat string `json:"cstm_dat,omitempty"`
}

// Signer produces a raw r‖s JOSE signature over the ASCII signing string.
// The identity package's operational key handle implements it.
type Signer interface {
	SignES384(signingString string) ([]byte, error)
}

type Issuer struct {
	Now func() time.Time
}

// Issue builds and signs a token asserting the holder's intent to log in at
// callbackURL. Custom data is forwarded opaque.
func (i Issuer) Issue(key Signer, callbackURL, customData string) (string, error) {
	now := time.Now().UTC()
	if i.Now != nil {
		now = i.Now().UTC()
	}
	claims := Claims{
		Sub:     callbackURL,
		Iat:     now.Unix(),
		Exp:     now.Unix() + int64(TokenTTL/time.Second),
		CstmDat: customData,
	}

	headerJSON, err := json.Marshal(tokenHeader{Alg: headerAlg, Typ: headerTyp})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingString := encodeSegment(headerJSON) + "." + encodeSegment(payloadJSON)

	sig, err := key.SignES384(signingString)
	if err != nil {
		return "", err
	}
	return signingString + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

type Verifier struct {
	Now func() time.Time
}

// Verify checks an inbound token against the supplied verifying key. Checks
// run in a fixed order so combined violations report deterministically:
// structure, then algorithm, then expiry, then signature. There is no
// replay or revocation store; a verified, unexpired token is accepted.
func (v Verifier) Verify(token string, key *ecdsa.PublicKey) (Claims, error) {
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}

	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return Claims{}, ErrMalformedToken
	}
	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	var hdr tokenHeader
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Claims{}, ErrMalformedToken
	}
	if hdr.Alg != headerAlg || hdr.Typ != headerTyp {
		return Claims{}, ErrUnsupportedAlgorithm
	}

	payloadJSON, err := decodeSegment(parts[1])
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}

	if claims.Exp <= now.Unix() {
		return Claims{}, ErrTokenExpired
	}

	sig, err := decodeSegment(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	signingString := parts[0] + "." + parts[1]
	if err := jwt.SigningMethodES384.Verify(signingString, sig, key); err != nil {
		return Claims{}, ErrInvalidSignature
	}
	return claims, nil
}

func encodeSegment(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(seg)
}
