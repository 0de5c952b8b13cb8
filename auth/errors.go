package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedRequest reports a login invocation without a usable request.
// This is an integration bug in the hosting wiring, not a user-facing auth
// failure.
var ErrMalformedRequest = errors.New("auth: malformed login request")

// ErrInvalidRequest reports a callback without its flow correlation cookie:
// an expired attempt, a misbehaving client, or a forgery probe. The login
// attempt is single-shot; the user must restart at the login initiator.
var ErrInvalidRequest = errors.New("auth: invalid callback request")

// ProviderErrorKind classifies failures involving the identity provider.
type ProviderErrorKind string

const (
	// VerificationFailure: the callback did not match the flow's nonce or
	// state, or the ID token failed signature/audience/issuer checks.
	// Treated as a potential forgery attempt.
	VerificationFailure ProviderErrorKind = "verification"

	// NetworkFailure: discovery or the token exchange round trip failed.
	NetworkFailure ProviderErrorKind = "network"

	// RemoteFailure: the provider itself posted an error response.
	RemoteFailure ProviderErrorKind = "remote"
)

// ProviderError represents a failure involving the identity provider.
type ProviderError struct {
	Kind   ProviderErrorKind
	Reason string
	Cause  error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth: provider %s error: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("auth: provider %s error: %s", e.Kind, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func verificationError(reason string, cause error) error {
	return &ProviderError{Kind: VerificationFailure, Reason: reason, Cause: cause}
}

func networkError(reason string, cause error) error {
	return &ProviderError{Kind: NetworkFailure, Reason: reason, Cause: cause}
}

// providerErrorStatus maps a provider failure to the HTTP status reported
// to the caller. Verification and remote failures are client-visible 400s;
// network failures are upstream 502s.
func providerErrorStatus(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == NetworkFailure {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}
