package auth

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// SessionLifetime is the fixed validity period of a session token. Expiry
// is always issuance time plus this constant; there is no sliding
// extension.
const SessionLifetime = 14 * 24 * time.Hour

// IdentityClaims are the provider-asserted attributes carried into a
// session token. Subject and Audience are copied verbatim from the ID
// token; Groups comes from the configured groups claim.
type IdentityClaims struct {
	Subject  string
	Audience string
	Groups   []string
}

// MintSessionToken signs a compact HS256 session token from claims.
//
// The payload carries iat, exp, updated_at (all derived from now), aud,
// sub, and the nested app_metadata.authorization.roles claim read by the
// downstream access-control infrastructure. Deterministic for fixed claims
// and now.
func MintSessionToken(claims IdentityClaims, secret []byte, now time.Time) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("auth: mint session token: %w", err)
	}

	roles := claims.Groups
	if roles == nil {
		roles = []string{}
	}

	std := jwt.Claims{
		Subject:  claims.Subject,
		Audience: jwt.Audience{claims.Audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(SessionLifetime)),
	}
	app := map[string]any{
		"updated_at": now.Unix(),
		"app_metadata": map[string]any{
			"authorization": map[string]any{
				"roles": roles,
			},
		},
	}

	token, err := jwt.Signed(signer).Claims(std).Claims(app).Serialize()
	if err != nil {
		return "", fmt.Errorf("auth: mint session token: %w", err)
	}
	return token, nil
}
