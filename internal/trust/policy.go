// Package trust gates token issuance on per-callback user consent. A
// callback URL is trusted by exact string identity: no wildcarding, no
// host-only matching, and entries never expire (the store is append-only;
// only a whole-store reset removes them).
package trust

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrCallbackInvalid = errors.New("callback url is invalid")

type Decision int

const (
	DecisionNeedsConsent Decision = iota
	DecisionProceed
)

func (d Decision) String() string {
	if d == DecisionProceed {
		return "proceed"
	}
	return "needs_consent"
}

type RecordStore interface {
	IsTrusted(url string) (bool, error)
	Confirm(url string) error
}

// Policy applies the safety guards and the trust lookup. SelfHost is the
// application's own host (anti-loop guard); SecureContext marks whether the
// application itself is served over a secure transport, in which case an
// insecure callback is refused.
type Policy struct {
	SelfHost      string
	SecureContext bool
	Records       RecordStore
}

// Evaluate validates the raw callback URL and reports whether issuance may
// proceed or explicit consent is still needed. The returned string is the
// exact record key used for the lookup.
func (p Policy) Evaluate(raw string) (Decision, string, error) {
	key, err := p.validate(raw)
	if err != nil {
		return DecisionNeedsConsent, "", err
	}
	trusted, err := p.Records.IsTrusted(key)
	if err != nil {
		return DecisionNeedsConsent, "", err
	}
	if trusted {
		return DecisionProceed, key, nil
	}
	return DecisionNeedsConsent, key, nil
}

// Confirm records explicit consent for the callback. Confirming an already
// trusted URL is a no-op.
func (p Policy) Confirm(raw string) (string, error) {
	key, err := p.validate(raw)
	if err != nil {
		return "", err
	}
	if err := p.Records.Confirm(key); err != nil {
		return "", err
	}
	return key, nil
}

// validate runs the guards in order: parsable absolute URL, same-host loop,
// secure-context downgrade. URLs differing only by path or trailing slash
// stay distinct keys.
func (p Policy) validate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: missing callback", ErrCallbackInvalid)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallbackInvalid, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: callback must be an absolute URL", ErrCallbackInvalid)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrCallbackInvalid, u.Scheme)
	}
	if p.SelfHost != "" && strings.EqualFold(u.Host, p.SelfHost) {
		return "", fmt.Errorf("%w: callback points back at this application", ErrCallbackInvalid)
	}
	if p.SecureContext && u.Scheme != "https" {
		return "", fmt.Errorf("%w: insecure callback from a secure context", ErrCallbackInvalid)
	}
	return trimmed, nil
}

// State is the consent lifecycle of one callback URL. There is no revoked
// state; trust only disappears with the whole store.
type State int

const (
	StateUnknown State = iota
	StateAwaitingConfirmation
	StateTrusted
)

func (s State) String() string {
	switch s {
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateTrusted:
		return "trusted"
	default:
		return "unknown"
	}
}

// ConsentFlow walks one callback through Unknown → AwaitingConfirmation →
// Trusted with explicit inputs.
type ConsentFlow struct {
	policy Policy
	key    string
	state  State
}

// NewConsentFlow evaluates the callback and starts the flow in Trusted when
// a prior consent record exists, otherwise in Unknown.
func NewConsentFlow(policy Policy, raw string) (*ConsentFlow, error) {
	decision, key, err := policy.Evaluate(raw)
	if err != nil {
		return nil, err
	}
	state := StateUnknown
	if decision == DecisionProceed {
		state = StateTrusted
	}
	return &ConsentFlow{policy: policy, key: key, state: state}, nil
}

func (f *ConsentFlow) State() State { return f.state }

func (f *ConsentFlow) CallbackKey() string { return f.key }

// RequestConsent marks that the user has been asked.
func (f *ConsentFlow) RequestConsent() error {
	if f.state != StateUnknown {
		return fmt.Errorf("consent request in state %s", f.state)
	}
	f.state = StateAwaitingConfirmation
	return nil
}

// Grant persists the consent and completes the flow.
func (f *ConsentFlow) Grant() error {
	if f.state != StateAwaitingConfirmation {
		return fmt.Errorf("consent grant in state %s", f.state)
	}
	if err := f.policy.Records.Confirm(f.key); err != nil {
		return err
	}
	f.state = StateTrusted
	return nil
}

// Deny returns the flow to Unknown; nothing is recorded.
func (f *ConsentFlow) Deny() {
	if f.state == StateAwaitingConfirmation {
		f.state = StateUnknown
	}
}
