package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FlowState rides through the identity provider as the opaque OAuth state
// parameter. It is never stored server-side: encoded at login, relayed by
// the provider, decoded at callback.
type FlowState struct {
	// Route is the post-login redirect target (the page the user came from).
	Route string `cbor:"1,keyasint,omitempty"`

	// Nonce is a random anti-replay value bound into the state parameter.
	// It is independent of the OIDC nonce proper, which travels in the
	// flow cookie and the ID token.
	Nonce string `cbor:"2,keyasint,omitempty"`
}

// EncodeFlowState encodes fs into an opaque base64url string.
func EncodeFlowState(fs FlowState) (string, error) {
	b, err := cbor.Marshal(fs)
	if err != nil {
		return "", fmt.Errorf("auth: encode flow state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeFlowState decodes an encoded flow state. An empty route decodes to
// "/", so a callback always has a redirect target.
func DecodeFlowState(s string) (FlowState, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return FlowState{}, fmt.Errorf("auth: decode flow state: %w", err)
	}
	var fs FlowState
	if err := cbor.Unmarshal(b, &fs); err != nil {
		return FlowState{}, fmt.Errorf("auth: decode flow state: %w", err)
	}
	if fs.Route == "" {
		fs.Route = "/"
	}
	return fs, nil
}

// flowAttempt is the sealed payload of the flow correlation cookie: the
// values the callback must match before any claims are trusted. Exactly
// one attempt is in flight per browser; a new login overwrites it.
type flowAttempt struct {
	// Nonce is the OIDC nonce sent to the provider; the ID token returned
	// at callback must echo it.
	Nonce string `cbor:"1,keyasint"`

	// State is the encoded flow state sent to the provider; the posted
	// callback state must equal it.
	State string `cbor:"2,keyasint"`
}

// FlowTTL bounds how long a login attempt may stay in flight, enforced by
// cookie expiry rather than server-side bookkeeping.
const FlowTTL = 30 * time.Minute

// nonceLength is the number of random bytes in a nonce. 32 bytes gives 256
// bits of entropy, enough that state and nonce values are unguessable even
// across a large number of concurrent flows.
const nonceLength = 32

// generateNonce creates a random, URL-safe nonce string. It backs both the
// OIDC nonce and the flow-state nonce.
func generateNonce() (string, error) {
	b := make([]byte, nonceLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
