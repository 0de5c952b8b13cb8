package middleware

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid cookie format")
	ErrCookieInvalid = errors.New("invalid cookie")
	ErrCookieConfig  = errors.New("invalid sealed cookie configuration")
)

// maxCookieLen bounds the amount of attacker-controlled data we will
// decode for a cookie value. Browsers cap individual cookies around 4KB;
// we enforce our own limit regardless.
const maxCookieLen = 8192

// KeySize is the required key length for sealed cookies
// (XChaCha20-Poly1305).
const KeySize = chacha20poly1305.KeySize

// SealedCookie seals values of type T into an authenticated, encrypted
// cookie and opens them back.
//
// Wire format: [keyID] "." [base64url(nonce || ciphertext)], where the
// ciphertext is XChaCha20-Poly1305 over the CBOR encoding of T. The AAD
// binds the cookie name, path, and secure flag, so a value cannot be
// replayed under different cookie attributes.
//
// Key rotation: keys holds every accepted key; keyID selects the one used
// for sealing new values.
type SealedCookie[T any] struct {
	name     string
	path     string
	secure   bool
	sameSite http.SameSite

	keyID string
	keys  map[string][]byte
}

// SealedCookieOption configures a SealedCookie.
type SealedCookieOption func(*cookieAttrs)

type cookieAttrs struct {
	path     string
	secure   bool
	sameSite http.SameSite
}

// WithPath sets the cookie path. Default "/".
func WithPath(path string) SealedCookieOption {
	return func(a *cookieAttrs) { a.path = path }
}

// WithSecure sets the cookie Secure flag. Default true.
func WithSecure(secure bool) SealedCookieOption {
	return func(a *cookieAttrs) { a.secure = secure }
}

// WithSameSite sets the cookie SameSite attribute. Default Lax.
func WithSameSite(ss http.SameSite) SealedCookieOption {
	return func(a *cookieAttrs) { a.sameSite = ss }
}

// NewSealedCookie creates a SealedCookie. Every key in keys must be
// KeySize bytes, and keyID must name one of them.
//
// Defaults: Path "/", HttpOnly, Secure, SameSite Lax.
func NewSealedCookie[T any](name, keyID string, keys map[string][]byte, opts ...SealedCookieOption) (*SealedCookie[T], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: keyID %q not found", ErrCookieConfig, keyID)
	}
	for id, k := range keys {
		if len(k) != KeySize {
			return nil, fmt.Errorf("%w: key %q: need %d bytes, have %d", ErrCookieConfig, id, KeySize, len(k))
		}
	}

	attrs := cookieAttrs{path: "/", secure: true, sameSite: http.SameSiteLaxMode}
	for _, opt := range opts {
		opt(&attrs)
	}
	if attrs.path == "" {
		attrs.path = "/"
	}

	return &SealedCookie[T]{
		name:     name,
		path:     attrs.path,
		secure:   attrs.secure,
		sameSite: attrs.sameSite,
		keyID:    keyID,
		keys:     keys,
	}, nil
}

// Name returns the cookie name.
func (sc *SealedCookie[T]) Name() string {
	if sc == nil {
		return ""
	}
	return sc.name
}

// aad binds cookie attributes into the authenticated data.
func (sc *SealedCookie[T]) aad() []byte {
	secureStr := "f"
	if sc.secure {
		secureStr = "t"
	}
	return []byte(sc.name + ":" + sc.path + ":" + secureStr)
}

// Encode seals plain and returns an http.Cookie carrying the value.
// maxAge must be positive; clearing is done via Clear.
func (sc *SealedCookie[T]) Encode(plain T, maxAge int) (*http.Cookie, error) {
	if sc == nil {
		return nil, ErrCookieConfig
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("%w: non-positive maxAge", ErrCookieInvalid)
	}

	plainBytes, err := cbor.Marshal(plain)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(sc.keys[sc.keyID])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plainBytes, sc.aad())

	return &http.Cookie{
		Name:     sc.name,
		Value:    sc.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed),
		Path:     sc.path,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}, nil
}

// Decode opens cookie and returns the sealed value.
func (sc *SealedCookie[T]) Decode(cookie *http.Cookie) (T, error) {
	var zero T
	if sc == nil {
		return zero, ErrCookieConfig
	}
	if cookie == nil || cookie.Value == "" || len(cookie.Value) > maxCookieLen {
		return zero, ErrCookieFormat
	}

	keyID, encB64, ok := strings.Cut(cookie.Value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return zero, ErrCookieFormat
	}
	key, ok := sc.keys[keyID]
	if !ok {
		return zero, ErrCookieInvalid
	}

	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return zero, ErrCookieFormat
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return zero, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return zero, ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plainBytes, err := aead.Open(nil, nonce, ciphertext, sc.aad())
	if err != nil {
		return zero, ErrCookieInvalid
	}

	var v T
	if err := cbor.Unmarshal(plainBytes, &v); err != nil {
		return zero, ErrCookieInvalid
	}
	return v, nil
}

// Clear returns a cookie that removes this cookie from the client.
func (sc *SealedCookie[T]) Clear() *http.Cookie {
	if sc == nil {
		return nil
	}
	return &http.Cookie{
		Name:     sc.name,
		Path:     sc.path,
		Value:    "",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}
}
