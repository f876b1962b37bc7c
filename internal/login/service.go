// Package login composes the identity, token and trust layers into the
// passwordless login operations the HTTP surface exposes.
package login

import (
	"crypto/ecdsa"
	"errors"
	"net/url"

	"latchkey/go-backend/internal/identity"
	"latchkey/go-backend/internal/logintoken"
	"latchkey/go-backend/internal/platform/metrics"
	"latchkey/go-backend/internal/trust"
)

var ErrNoIdentity = errors.New("login: no identity installed")

type Service struct {
	Identity *identity.Manager
	Issuer   logintoken.Issuer
	Verifier logintoken.Verifier
	Policy   trust.Policy
	Metrics  *metrics.Set
}

// LoginResult is the outcome of a login request: either a redirect target
// carrying the token, or a pending consent for the callback.
type LoginResult struct {
	NeedsConsent bool
	Callback     string
	RedirectURL  string
}

// Login runs the trust policy for the callback and, when trust is already
// established, issues a token and builds the redirect URL. The verifying key
// travels out-of-band as the pubKey query parameter next to the token.
func (s *Service) Login(callback, customData string) (LoginResult, error) {
	decision, key, err := s.Policy.Evaluate(callback)
	if err != nil {
		s.countDecision("rejected")
		return LoginResult{}, err
	}
	if decision == trust.DecisionNeedsConsent {
		s.countDecision("needs_consent")
		return LoginResult{NeedsConsent: true, Callback: key}, nil
	}

	signing, err := s.Identity.SigningKey()
	if err != nil {
		return LoginResult{}, ErrNoIdentity
	}
	token, err := s.Issuer.Issue(signing, key, customData)
	if err != nil {
		return LoginResult{}, err
	}
	verifying, err := s.Identity.VerifyingKey()
	if err != nil {
		return LoginResult{}, ErrNoIdentity
	}
	spki, err := identity.EncodeVerifyingKeySPKI(verifying)
	if err != nil {
		return LoginResult{}, err
	}

	redirect, err := appendLoginParams(key, token, spki)
	if err != nil {
		return LoginResult{}, err
	}
	s.countDecision("proceed")
	if s.Metrics != nil {
		s.Metrics.TokensIssued.Inc()
	}
	return LoginResult{Callback: key, RedirectURL: redirect}, nil
}

// Consent records the user's confirmation for the callback.
func (s *Service) Consent(callback string) (string, error) {
	key, err := s.Policy.Confirm(callback)
	if err != nil {
		s.countDecision("rejected")
		return "", err
	}
	s.countDecision("granted")
	return key, nil
}

// VerifyToken checks an inbound token against a caller-supplied verifying
// key encoded as base64url SPKI.
func (s *Service) VerifyToken(token, encodedSPKI string) (logintoken.Claims, error) {
	key, err := identity.ParseVerifyingKeySPKI(encodedSPKI)
	if err != nil {
		s.countVerification("bad_key")
		return logintoken.Claims{}, err
	}
	claims, err := s.Verifier.Verify(token, key.ECDSA())
	if err != nil {
		s.countVerification(verificationLabel(err))
		return logintoken.Claims{}, err
	}
	s.countVerification("ok")
	return claims, nil
}

// VerifyWithKey is VerifyToken for callers that already hold the key.
func (s *Service) VerifyWithKey(token string, key *ecdsa.PublicKey) (logintoken.Claims, error) {
	claims, err := s.Verifier.Verify(token, key)
	if err != nil {
		s.countVerification(verificationLabel(err))
		return logintoken.Claims{}, err
	}
	s.countVerification("ok")
	return claims, nil
}

func appendLoginParams(callback, token, spki string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("jwt", token)
	q.Set("pubKey", spki)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func verificationLabel(err error) string {
	switch {
	case errors.Is(err, logintoken.ErrMalformedToken):
		return "malformed"
	case errors.Is(err, logintoken.ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, logintoken.ErrTokenExpired):
		return "expired"
	case errors.Is(err, logintoken.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "error"
	}
}

func (s *Service) countDecision(outcome string) {
	if s.Metrics != nil {
		s.Metrics.LoginDecisions.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countVerification(result string) {
	if s.Metrics != nil {
		s.Metrics.Verifications.WithLabelValues(result).Inc()
	}
}
