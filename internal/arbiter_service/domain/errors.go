package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Terminal validation failures. Each maps to a distinct transport status and
// X-Error-Code so callers branch on semantic kind, not prose.
var (
	ErrAuthHeaderMissing  = errors.New("missing or malformed authorization header")
	ErrInvalidCredentials = errors.New("invalid credentials or inactive account")
	ErrInvalidToken       = errors.New("token is invalid or expired")
	ErrDeviceMismatch     = errors.New("token device does not match request device")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrEmptyNumbers       = errors.New("numbers must not be empty")

	// ErrInfrastructureUnavailable wraps storage failures. It is retryable
	// and must never be collapsed into a denied arbitration result.
	ErrInfrastructureUnavailable = errors.New("storage unavailable")
)

// InsufficientScopeError reports which required scopes the token lacks.
type InsufficientScopeError struct {
	Missing []string
}

func (e *InsufficientScopeError) Error() string {
	return fmt.Sprintf("insufficient scope: missing %s", strings.Join(e.Missing, ", "))
}

// ErrInsufficientScope allows errors.Is checks against any
// *InsufficientScopeError regardless of the missing scopes.
var ErrInsufficientScope = errors.New("insufficient scope")

func (e *InsufficientScopeError) Is(target error) bool {
	return target == ErrInsufficientScope
}

// NumberNotInDomainError rejects a whole batch: if any requested number is
// outside the caller's domain, no assignment state changes for any number.
type NumberNotInDomainError struct {
	Numbers []string
}

func (e *NumberNotInDomainError) Error() string {
	return fmt.Sprintf("numbers not in domain: %s", strings.Join(e.Numbers, ", "))
}

var ErrNumberNotInDomain = errors.New("number not in domain")

func (e *NumberNotInDomainError) Is(target error) bool {
	return target == ErrNumberNotInDomain
}

// InvalidNumberError rejects a malformed (non-E.164) number before any
// arbitration happens.
type InvalidNumberError struct {
	Raw string
}

func (e *InvalidNumberError) Error() string {
	return fmt.Sprintf("invalid number format (must be E.164): %q", e.Raw)
}

var ErrInvalidNumber = errors.New("invalid number format")

func (e *InvalidNumberError) Is(target error) bool {
	return target == ErrInvalidNumber
}

// UpstreamAuthError classifies vendor credential-endpoint failures.
// Permanent means the stored vendor secrets are bad and retrying is
// pointless; transient means the caller may retry with backoff.
type UpstreamAuthError struct {
	Permanent bool
	Detail    string
}

func (e *UpstreamAuthError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("upstream auth error (%s): %s", kind, e.Detail)
}

var ErrUpstreamAuth = errors.New("upstream auth error")

func (e *UpstreamAuthError) Is(target error) bool {
	return target == ErrUpstreamAuth
}
