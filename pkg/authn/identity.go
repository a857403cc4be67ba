// Package authn verifies bearer tokens against a cached set of signing keys
// and maps verified claims to a request-scoped Identity.
package authn

import (
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Identity is the verified representation of a calling user. Immutable;
// lifetime is one request.
type Identity struct {
	// Username extracted from the configured username claim.
	Username string

	// Scopes granted to the token.
	Scopes []string

	// Active reports whether the identity is usable. Tokens carrying an
	// explicit active=false claim verify cryptographically but are rejected.
	Active bool

	// Claims holds the full decoded claim set for downstream consumers.
	Claims map[string]any
}

// HasScope reports whether the identity carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// identityFromToken maps a verified token to an Identity.
func identityFromToken(tok jwt.Token, usernameClaim string) *Identity {
	claims := make(map[string]any, len(tok.PrivateClaims())+3)
	for name, v := range tok.PrivateClaims() {
		claims[name] = v
	}
	if sub := tok.Subject(); sub != "" {
		claims["sub"] = sub
	}
	if iss := tok.Issuer(); iss != "" {
		claims["iss"] = iss
	}
	if aud := tok.Audience(); len(aud) > 0 {
		claims["aud"] = aud
	}

	id := &Identity{Active: true, Claims: claims}

	if v, ok := claims[usernameClaim]; ok {
		if s, ok := v.(string); ok {
			id.Username = s
		}
	}
	if v, ok := claims["scope"]; ok {
		if s, ok := v.(string); ok {
			id.Scopes = strings.Fields(s)
		}
	}
	if v, ok := claims["active"]; ok {
		if b, ok := v.(bool); ok {
			id.Active = b
		}
	}
	return id
}
