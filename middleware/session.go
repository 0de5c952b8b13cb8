package middleware

// Session verification for the endpoint processor pipeline.
//
// The session cookie carries a compact HS256 JWT minted by the auth
// package at login time. This file verifies it on inbound requests and
// exposes its claims via the request context. Verification only: sessions
// are never refreshed or extended here; they end by expiry or logout.

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/mnehpets/idbridge/endpoint"
)

var ErrNoSession = errors.New("no session")

// sessionAlgorithms lists the accepted signature algorithms for session
// tokens. The minting side is fixed to HS256.
var sessionAlgorithms = []jose.SignatureAlgorithm{jose.HS256}

// SessionClaims are the verified claims of a session token.
type SessionClaims struct {
	Subject  string
	Audience string
	Roles    []string
	IssuedAt time.Time
	Expiry   time.Time
}

// HasRole reports whether the session carries role.
func (c *SessionClaims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Roles, role)
}

// rolesClaim mirrors the nested authorization claim of the session token.
type rolesClaim struct {
	AppMetadata struct {
		Authorization struct {
			Roles []string `json:"roles"`
		} `json:"authorization"`
	} `json:"app_metadata"`
}

// VerifySessionToken parses and verifies a compact session token against
// secret, checking the signature and expiry at time now.
func VerifySessionToken(token string, secret []byte, now time.Time) (*SessionClaims, error) {
	tok, err := jwt.ParseSigned(token, sessionAlgorithms)
	if err != nil {
		return nil, ErrNoSession
	}

	var std jwt.Claims
	var roles rolesClaim
	if err := tok.Claims(secret, &std, &roles); err != nil {
		return nil, ErrNoSession
	}
	if err := std.Validate(jwt.Expected{Time: now}); err != nil {
		return nil, ErrNoSession
	}

	claims := &SessionClaims{
		Subject: std.Subject,
		Roles:   roles.AppMetadata.Authorization.Roles,
	}
	if len(std.Audience) > 0 {
		claims.Audience = std.Audience[0]
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time()
	}
	return claims, nil
}

// sessionContextKey is an unexported unique key for storing claims in context.
type sessionContextKey struct{}

// WithSessionClaims stores claims in ctx and returns the derived context.
func WithSessionClaims(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, claims)
}

// SessionClaimsFromContext returns the SessionClaims stored in ctx, if any.
func SessionClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	claims, ok := ctx.Value(sessionContextKey{}).(*SessionClaims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

// SessionProcessor is an endpoint processor that verifies the session
// token cookie and attaches its claims to the request context.
//
// A missing, malformed, or expired token yields an anonymous request, not
// an error; gating happens downstream (see RequireRoles).
type SessionProcessor struct {
	cookieName string
	secret     []byte
}

// NewSessionProcessor returns a SessionProcessor reading the named cookie
// and verifying tokens against secret.
func NewSessionProcessor(cookieName string, secret []byte) *SessionProcessor {
	return &SessionProcessor{cookieName: cookieName, secret: secret}
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if p == nil || p.cookieName == "" || len(p.secret) == 0 {
		return errors.New("middleware: SessionProcessor not configured")
	}

	c, err := r.Cookie(p.cookieName)
	if err == nil && c.Value != "" {
		if claims, verr := VerifySessionToken(c.Value, p.secret, time.Now()); verr == nil {
			r = r.WithContext(WithSessionClaims(r.Context(), claims))
		}
	}
	return next(w, r)
}

// RequireRoles returns a processor that rejects requests lacking a
// verified session (401) or any of the given roles (403). It must run
// after a SessionProcessor in the chain.
func RequireRoles(roles ...string) endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		claims, ok := SessionClaimsFromContext(r.Context())
		if !ok {
			return endpoint.Error(http.StatusUnauthorized, "authentication required", ErrNoSession)
		}
		for _, role := range roles {
			if !claims.HasRole(role) {
				return endpoint.Error(http.StatusForbidden, "missing role "+role, nil)
			}
		}
		return next(w, r)
	})
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
