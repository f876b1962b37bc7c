package logintoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type testSigner struct {
	priv *ecdsa.PrivateKey
}

func (s testSigner) SignES384(signingString string) ([]byte, error) {
	return jwt.SigningMethodES384.Sign(signingString, s.priv)
}

func mustKeys(t *testing.T) (testSigner, *ecdsa.PublicKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return testSigner{priv: priv}, &priv.PublicKey
}

var issuedAt = time.Date(2026, 3, 7, 9, 30, 0, 0, time.UTC)

func TestIssueVerifyRoundtrip(t *testing.T) {
	signer, pub := mustKeys(t)
	issuer := Issuer{Now: func() time.Time { return issuedAt }}
	token, err := issuer.Issue(signer, "https://relying.example/cb", "opaque-data")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	verifier := Verifier{Now: func() time.Time { return issuedAt.Add(time.Minute) }}
	claims, err := verifier.Verify(token, pub)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Sub != "https://relying.example/cb" {
		t.Fatalf("unexpected sub: %q", claims.Sub)
	}
	if claims.Exp != claims.Iat+86400 {
		t.Fatalf("exp should be iat+86400, got iat=%d exp=%d", claims.Iat, claims.Exp)
	}
	if claims.CstmDat != "opaque-data" {
		t.Fatalf("unexpected cstm_dat: %q", claims.CstmDat)
	}
}

func TestTokenHeaderIsFixed(t *testing.T) {
	signer, _ := mustKeys(t)
	token, err := Issuer{Now: func() time.Time { return issuedAt }}.Issue(signer, "https://cb.example/", "")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if string(headerJSON) != `{"alg":"ES384","typ":"JWT"}` {
		t.Fatalf("unexpected header: %s", headerJSON)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	signer, pub := mustKeys(t)
	token, err := Issuer{Now: func() time.Time { return issuedAt }}.Issue(signer, "https://cb.example/", "")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	exp := issuedAt.Add(TokenTTL)

	cases := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"one second before expiry", exp.Add(-time.Second), nil},
		{"exactly at expiry", exp, ErrTokenExpired},
		{"after expiry", exp.Add(time.Hour), ErrTokenExpired},
	}
	for _, tc := range cases {
		_, err := Verifier{Now: func() time.Time { return tc.now }}.Verify(token, pub)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	_, pub := mustKeys(t)
	verifier := Verifier{Now: func() time.Time { return issuedAt }}
	for name, token := range map[string]string{
		"empty":         "",
		"two segments":  "abc.def",
		"four segments": "a.b.c.d",
		"bad base64":    "%%%.def.ghi",
		"header not json": base64.RawURLEncoding.EncodeToString([]byte("nope")) +
			".e30.c2ln",
	} {
		if _, err := verifier.Verify(token, pub); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%s: expected ErrMalformedToken, got %v", name, err)
		}
	}
}

// forgeToken hand-builds a token with arbitrary header/claims, signed by key.
func forgeToken(t *testing.T, signer testSigner, hdr any, claims any) string {
	t.Helper()
	headerJSON, err := json.Marshal(hdr)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	signingString := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	sig, err := signer.SignES384(signingString)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signingString + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestVerifyRejectsUnsupportedAlgorithm(t *testing.T) {
	signer, pub := mustKeys(t)
	claims := Claims{Sub: "https://cb.example/", Iat: issuedAt.Unix(), Exp: issuedAt.Add(TokenTTL).Unix()}
	for name, hdr := range map[string]tokenHeader{
		"es256 alg": {Alg: "ES256", Typ: "JWT"},
		"none alg":  {Alg: "none", Typ: "JWT"},
		"bad typ":   {Alg: "ES384", Typ: "JOSE"},
	} {
		token := forgeToken(t, signer, hdr, claims)
		_, err := Verifier{Now: func() time.Time { return issuedAt }}.Verify(token, pub)
		if !errors.Is(err, ErrUnsupportedAlgorithm) {
			t.Fatalf("%s: expected ErrUnsupportedAlgorithm, got %v", name, err)
		}
	}
}

func TestVerifyCheckOrderUnderCombinedViolations(t *testing.T) {
	signer, pub := mustKeys(t)
	otherSigner, _ := mustKeys(t)

	// Expired AND signed by the wrong key: expiry is reported, not signature.
	expired := Claims{Sub: "https://cb.example/", Iat: issuedAt.Add(-48 * time.Hour).Unix(), Exp: issuedAt.Add(-24 * time.Hour).Unix()}
	token := forgeToken(t, otherSigner, tokenHeader{Alg: headerAlg, Typ: headerTyp}, expired)
	if _, err := (Verifier{Now: func() time.Time { return issuedAt }}).Verify(token, pub); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired first, got %v", err)
	}

	// Wrong algorithm AND expired: the algorithm check wins.
	token = forgeToken(t, signer, tokenHeader{Alg: "ES256", Typ: headerTyp}, expired)
	if _, err := (Verifier{Now: func() time.Time { return issuedAt }}).Verify(token, pub); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm first, got %v", err)
	}
}

func TestVerifyTamperedPayloadFailsSignature(t *testing.T) {
	signer, pub := mustKeys(t)
	token, err := Issuer{Now: func() time.Time { return issuedAt }}.Issue(signer, "https://cb.example/", "data")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	verifier := Verifier{Now: func() time.Time { return issuedAt.Add(time.Minute) }}

	var original Claims
	if err := json.Unmarshal(payload, &original); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString(mutated) + "." + parts[2]
		_, err := verifier.Verify(forged, pub)
		if err == nil {
			t.Fatalf("tampered payload at byte %d verified", i)
		}
		var probe Claims
		switch {
		case json.Unmarshal(mutated, &probe) != nil:
			// The flip broke the JSON; structural rejection.
			if !errors.Is(err, ErrMalformedToken) {
				t.Fatalf("byte %d: expected ErrMalformedToken, got %v", i, err)
			}
		case probe.Exp != original.Exp:
			// The flip hit the exp digits; either expiry or signature fires,
			// but never acceptance.
			if !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("byte %d: unexpected error %v", i, err)
			}
		default:
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("byte %d: expected ErrInvalidSignature, got %v", i, err)
			}
		}
	}
}

func TestVerifyWrongKeyFailsSignature(t *testing.T) {
	signer, _ := mustKeys(t)
	_, otherPub := mustKeys(t)
	token, err := Issuer{Now: func() time.Time { return issuedAt }}.Issue(signer, "https://cb.example/", "")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	_, err = Verifier{Now: func() time.Time { return issuedAt }}.Verify(token, otherPub)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
