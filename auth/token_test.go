package auth

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type mintedPayload struct {
	UpdatedAt   int64 `json:"updated_at"`
	AppMetadata struct {
		Authorization struct {
			Roles []string `json:"roles"`
		} `json:"authorization"`
	} `json:"app_metadata"`
}

func TestMintSessionTokenShape(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	claims := IdentityClaims{
		Subject:  "S",
		Audience: "A",
		Groups:   []string{"g1", "g2"},
	}

	token, err := MintSessionToken(claims, testSecret, now)
	if err != nil {
		t.Fatalf("MintSessionToken: %v", err)
	}

	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		t.Fatalf("ParseSigned: %v", err)
	}
	if typ, ok := tok.Headers[0].ExtraHeaders[jose.HeaderType]; !ok || typ != "JWT" {
		t.Errorf("header typ: got %v want JWT", typ)
	}

	var std jwt.Claims
	var app mintedPayload
	if err := tok.Claims(testSecret, &std, &app); err != nil {
		t.Fatalf("Claims (signature verification): %v", err)
	}

	if std.Subject != "S" {
		t.Errorf("sub: got %q want %q", std.Subject, "S")
	}
	if len(std.Audience) != 1 || std.Audience[0] != "A" {
		t.Errorf("aud: got %v want [A]", std.Audience)
	}
	if got := std.Expiry.Time().Sub(std.IssuedAt.Time()); got != SessionLifetime {
		t.Errorf("exp - iat: got %v want %v", got, SessionLifetime)
	}
	if !std.IssuedAt.Time().Equal(now) {
		t.Errorf("iat: got %v want %v", std.IssuedAt.Time(), now)
	}
	if app.UpdatedAt != now.Unix() {
		t.Errorf("updated_at: got %d want %d", app.UpdatedAt, now.Unix())
	}
	roles := app.AppMetadata.Authorization.Roles
	if len(roles) != 2 || roles[0] != "g1" || roles[1] != "g2" {
		t.Errorf("roles: got %v want [g1 g2]", roles)
	}
}

func TestMintSessionTokenDeterministic(t *testing.T) {
	now := time.Unix(1714564800, 0)
	claims := IdentityClaims{Subject: "S", Audience: "A", Groups: []string{"g"}}

	a, err := MintSessionToken(claims, testSecret, now)
	if err != nil {
		t.Fatalf("MintSessionToken: %v", err)
	}
	b, err := MintSessionToken(claims, testSecret, now)
	if err != nil {
		t.Fatalf("MintSessionToken: %v", err)
	}
	if a != b {
		t.Error("identical claims and clock should mint identical tokens")
	}
}

func TestMintSessionTokenNoGroups(t *testing.T) {
	token, err := MintSessionToken(IdentityClaims{Subject: "S", Audience: "A"}, testSecret, time.Now())
	if err != nil {
		t.Fatalf("MintSessionToken: %v", err)
	}
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		t.Fatalf("ParseSigned: %v", err)
	}
	var app mintedPayload
	if err := tok.Claims(testSecret, &app); err != nil {
		t.Fatalf("Claims: %v", err)
	}
	// The roles claim is always present, even when the provider asserted
	// no group memberships.
	if app.AppMetadata.Authorization.Roles == nil {
		t.Error("roles claim missing for group-less identity")
	}
	if len(app.AppMetadata.Authorization.Roles) != 0 {
		t.Errorf("roles: got %v want empty", app.AppMetadata.Authorization.Roles)
	}
}
