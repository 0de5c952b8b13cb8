// Package auth implements the server-side half of an OIDC federated login
// flow: a login initiator, a callback handler, and a logout initiator,
// each stateless and independently invocable.
//
// No session state is kept server-side. The login request and its
// asynchronous callback are correlated entirely through a sealed,
// short-lived flow cookie held by the browser and the state parameter
// relayed by the identity provider. A successful callback mints a signed
// session token consumed downstream for role-based access control.
package auth

import (
	"crypto/sha256"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mnehpets/idbridge/endpoint"
	"github.com/mnehpets/idbridge/middleware"
)

// DefaultFlowCookieName is the default name of the flow correlation cookie.
const DefaultFlowCookieName = "idbf"

// DefaultSessionCookieName is the default name of the session token cookie.
const DefaultSessionCookieName = "idb_jwt"

// flowCookieKeyID labels the sealing key derived from Config.Secret.
const flowCookieKeyID = "s1"

// AuthHandler serves the login, callback, and logout endpoints under a
// base path.
type AuthHandler struct {
	mux      *http.ServeMux
	cfg      Config
	basePath string

	flowCookie        *middleware.SealedCookie[flowAttempt]
	sessionCookieName string

	processors []endpoint.Processor

	// now is the token-issuance clock.
	now func() time.Time
}

// Option configures the AuthHandler.
type Option func(*AuthHandler)

// WithProcessors adds middleware processors to the auth endpoints.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *AuthHandler) {
		h.processors = append(h.processors, p...)
	}
}

// WithSessionCookieName overrides the session cookie name.
func WithSessionCookieName(name string) Option {
	return func(h *AuthHandler) {
		h.sessionCookieName = name
	}
}

// NewHandler creates an AuthHandler mounted at basePath (e.g. "/auth"),
// serving GET {basePath}/login, POST {basePath}/callback, and
// GET {basePath}/logout.
//
// The flow cookie's sealing key is derived from cfg.Secret, so the single
// configured secret covers both token signing and flow-cookie sealing.
func NewHandler(cfg Config, basePath string, opts ...Option) (*AuthHandler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := &AuthHandler{
		mux:               http.NewServeMux(),
		cfg:               cfg,
		basePath:          basePath,
		sessionCookieName: DefaultSessionCookieName,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	cookieKey := sha256.Sum256([]byte(cfg.Secret))
	flowCookie, err := middleware.NewSealedCookie[flowAttempt](
		DefaultFlowCookieName,
		flowCookieKeyID,
		map[string][]byte{flowCookieKeyID: cookieKey[:]},
		middleware.WithSecure(!cfg.LocalDev),
	)
	if err != nil {
		return nil, err
	}
	h.flowCookie = flowCookie

	h.mux.HandleFunc("GET "+path.Join(basePath, "login"), endpoint.HandleFunc(h.login, h.processors...))
	h.mux.HandleFunc("POST "+path.Join(basePath, "callback"), endpoint.HandleFunc(h.callback, h.processors...))
	h.mux.HandleFunc("GET "+path.Join(basePath, "logout"), endpoint.HandleFunc(h.logout, h.processors...))

	return h, nil
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// LoginParams are the inputs to the login initiator. Nothing in the
// request is trusted beyond the Referer header, which only selects the
// post-login redirect target.
type LoginParams struct {
	Referer string `header:"Referer"`
}

// CallbackParams are the provider-posted response parameters, delivered by
// form post per the authorization request's response mode.
type CallbackParams struct {
	Code             string `form:"code"`
	State            string `form:"state"`
	Error            string `form:"error"`
	ErrorDescription string `form:"error_description"`
}

// LogoutParams: logout requires no input.
type LogoutParams struct{}

// login initiates a login attempt: it generates fresh anti-replay values,
// seals them into the flow cookie, and redirects to the provider's
// authorization endpoint.
func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, params LoginParams) (endpoint.Renderer, error) {
	if r == nil || r.Header == nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "malformed login request", ErrMalformedRequest)
	}

	route := params.Referer
	if route == "" {
		route = "/"
	}

	oidcNonce, err := generateNonce()
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to generate nonce", err)
	}
	stateNonce, err := generateNonce()
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to generate nonce", err)
	}
	state, err := EncodeFlowState(FlowState{Route: route, Nonce: stateNonce})
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to encode state", err)
	}

	pc, err := discoverProvider(r.Context(), h.cfg, h.callbackURL())
	if err != nil {
		return nil, endpoint.Error(providerErrorStatus(err), "provider discovery failed", err)
	}

	c, err := h.flowCookie.Encode(flowAttempt{Nonce: oidcNonce, State: state}, int(FlowTTL.Seconds()))
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to seal flow cookie", err)
	}
	http.SetCookie(w, c)

	return &endpoint.RedirectRenderer{
		URL:          pc.AuthCodeURL(state, oidcNonce),
		Status:       http.StatusFound,
		CacheControl: "no-cache",
	}, nil
}

// callback completes a login attempt. Any failure before minting prevents
// cookie issuance and redirect: the attempt is single-shot and the user
// restarts at the login initiator.
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	c, err := r.Cookie(h.flowCookie.Name())
	if err != nil {
		return nil, endpoint.Error(http.StatusBadRequest, "missing flow cookie", ErrInvalidRequest)
	}
	attempt, err := h.flowCookie.Decode(c)
	if err != nil {
		return nil, endpoint.Error(http.StatusBadRequest, "unreadable flow cookie", ErrInvalidRequest)
	}

	pc, err := discoverProvider(r.Context(), h.cfg, h.callbackURL())
	if err != nil {
		return nil, endpoint.Error(providerErrorStatus(err), "provider discovery failed", err)
	}

	claims, err := pc.Exchange(r.Context(), params, expectedFlow{Nonce: attempt.Nonce, State: attempt.State})
	if err != nil {
		return nil, endpoint.Error(providerErrorStatus(err), "login verification failed", err)
	}

	token, err := MintSessionToken(claims, []byte(h.cfg.Secret), h.now())
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to mint session token", err)
	}

	// The redirect target comes from the original state value the cookie
	// held, not from anything the provider echoed back.
	fs, err := DecodeFlowState(attempt.State)
	if err != nil {
		return nil, endpoint.Error(http.StatusBadRequest, "unreadable flow state", ErrInvalidRequest)
	}

	http.SetCookie(w, h.sessionCookie(token))
	// The attempt is over either way; drop the flow cookie.
	http.SetCookie(w, h.flowCookie.Clear())

	return &endpoint.RedirectRenderer{
		URL:          fs.Route,
		Status:       http.StatusFound,
		CacheControl: "no-cache",
	}, nil
}

// logout clears the session cookie and redirects to the provider's logout
// endpoint. Idempotent: it does not care whether a session existed.
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request, _ LogoutParams) (endpoint.Renderer, error) {
	http.SetCookie(w, h.clearedSessionCookie())
	return &endpoint.RedirectRenderer{
		URL:    LogoutURL(h.cfg),
		Status: http.StatusFound,
	}, nil
}

// sessionCookie wraps a minted token in the platform session cookie.
func (h *AuthHandler) sessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:   h.sessionCookieName,
		Value:  token,
		Path:   "/",
		MaxAge: int(SessionLifetime.Seconds()),
		Secure: !h.cfg.LocalDev,
		// Not HttpOnly: the downstream platform reads this cookie from
		// client-side script.
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) clearedSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     h.sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   !h.cfg.LocalDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// callbackURL is the redirect URI registered with the provider.
func (h *AuthHandler) callbackURL() string {
	u, err := url.Parse(h.cfg.BaseURL)
	if err != nil {
		return strings.TrimRight(h.cfg.BaseURL, "/") + path.Join(h.basePath, "callback")
	}
	u.Path = path.Join(u.Path, h.basePath, "callback")
	return u.String()
}
