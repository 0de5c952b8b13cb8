package auth

import (
	"context"
	"crypto/subtle"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// providerClient is one discovered connection to the identity provider. It
// lives for a single handler invocation: every login and callback performs
// its own discovery, so no state survives across requests.
type providerClient struct {
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	oauth       *oauth2.Config
	groupsClaim string
}

// discoverProvider runs OIDC discovery against the configured issuer and
// returns a client bound to redirectURL.
func discoverProvider(ctx context.Context, cfg Config, redirectURL string) (*providerClient, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL())
	if err != nil {
		return nil, networkError("discovery failed", err)
	}

	return &providerClient{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		groupsClaim: cfg.groupsClaim(),
	}, nil
}

// AuthCodeURL builds the provider authorization URL for one login attempt.
// The provider delivers its response by form post to the callback handler,
// so neither the code nor the state ever appears in a request URL on the
// way back.
func (pc *providerClient) AuthCodeURL(state, nonce string) string {
	return pc.oauth.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("response_mode", "form_post"),
	)
}

// expectedFlow carries the values, recovered from the flow cookie, that a
// callback response must match.
type expectedFlow struct {
	Nonce string
	State string
}

// Exchange validates the posted callback parameters against expect and
// exchanges the authorization code for verified identity claims.
//
// This is the non-bypassable verification step of the flow: the posted
// state must equal the cookie-held state, the ID token signature, issuer,
// and audience are checked, and the token's nonce claim must echo the
// cookie-held nonce. Any mismatch is a verification failure; nothing is
// retried.
func (pc *providerClient) Exchange(ctx context.Context, params CallbackParams, expect expectedFlow) (IdentityClaims, error) {
	if params.Error != "" {
		reason := params.Error
		if params.ErrorDescription != "" {
			reason += ": " + params.ErrorDescription
		}
		return IdentityClaims{}, &ProviderError{Kind: RemoteFailure, Reason: reason}
	}

	if subtle.ConstantTimeCompare([]byte(params.State), []byte(expect.State)) != 1 {
		return IdentityClaims{}, verificationError("state mismatch", nil)
	}

	token, err := pc.oauth.Exchange(ctx, params.Code)
	if err != nil {
		return IdentityClaims{}, networkError("token exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return IdentityClaims{}, verificationError("no id_token in exchange response", nil)
	}
	idToken, err := pc.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return IdentityClaims{}, verificationError("id_token verification failed", err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(expect.Nonce)) != 1 {
		return IdentityClaims{}, verificationError("nonce mismatch", nil)
	}

	claims := IdentityClaims{
		Subject: idToken.Subject,
		Groups:  pc.groupsFromToken(idToken),
	}
	if len(idToken.Audience) > 0 {
		claims.Audience = idToken.Audience[0]
	}
	return claims, nil
}

// groupsFromToken reads the configured groups claim from the ID token.
// Providers deliver it as a JSON array of strings; absent or malformed
// claims yield no groups rather than an error.
func (pc *providerClient) groupsFromToken(idToken *oidc.IDToken) []string {
	var allClaims map[string]any
	if err := idToken.Claims(&allClaims); err != nil {
		return nil
	}
	v, ok := allClaims[pc.groupsClaim]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			groups = append(groups, s)
		}
	}
	return groups
}

// LogoutURL builds the provider's logout endpoint URL, parameterized with
// the client identifier and the application base URL as the return target.
// Built from configuration alone; logout performs no discovery.
func LogoutURL(cfg Config) string {
	q := url.Values{
		"client_id": {cfg.ClientID},
		"returnTo":  {cfg.BaseURL},
	}
	return cfg.IssuerURL() + "/v2/logout?" + q.Encode()
}
