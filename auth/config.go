package auth

import (
	"errors"
	"strings"
)

// Config is the process-wide configuration for the login flow. It is read
// once at startup and passed into NewHandler; handlers never consult the
// environment themselves.
type Config struct {
	// Domain is the identity provider's domain (e.g. "tenant.idp.example")
	// or a full issuer URL. Discovery runs against this issuer.
	Domain string

	// ClientID is the OAuth2 client identifier registered with the provider.
	ClientID string

	// ClientSecret is the confidential-client secret used for the code
	// exchange at the provider's token endpoint.
	ClientSecret string

	// BaseURL is the public base URL of the application
	// (e.g. "https://app.example"). The callback redirect URI and the
	// post-logout return URL are derived from it.
	BaseURL string

	// Secret signs session tokens (HS256) and, hashed, keys the sealed
	// flow cookie.
	Secret string

	// GroupsClaim is the ID-token claim holding the user's group
	// memberships. Defaults to "groups".
	GroupsClaim string

	// LocalDev disables the Secure cookie flag for plain-HTTP development.
	LocalDev bool
}

func (c Config) validate() error {
	switch {
	case c.Domain == "":
		return errors.New("auth: config: missing provider domain")
	case c.ClientID == "":
		return errors.New("auth: config: missing client ID")
	case c.BaseURL == "":
		return errors.New("auth: config: missing base URL")
	case c.Secret == "":
		return errors.New("auth: config: missing session secret")
	}
	return nil
}

// IssuerURL returns the discovery issuer for the configured domain. A bare
// domain is assumed to be served over https.
func (c Config) IssuerURL() string {
	if strings.Contains(c.Domain, "://") {
		return strings.TrimRight(c.Domain, "/")
	}
	return "https://" + c.Domain
}

func (c Config) groupsClaim() string {
	if c.GroupsClaim == "" {
		return "groups"
	}
	return c.GroupsClaim
}
