package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hpcbridge/hpcbridge/internal/server/httpjson"
	"github.com/hpcbridge/hpcbridge/pkg/authn"
	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
)

const (
	identityKey contextKey = "identity"
	tokenKey    contextKey = "access-token"
)

// TokenVerifier validates a raw bearer token into an identity. Satisfied by
// *authn.Verifier.
type TokenVerifier interface {
	Verify(token string) (*authn.Identity, error)
}

// Auth extracts and verifies the bearer token, placing the identity and the
// raw token in the request context. The raw token travels on because SSH
// credential issuance downstream presents it to the key service.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpjson.WriteError(w, gwerr.ErrTokenInvalid)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				httpjson.WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom returns the verified identity, or nil outside an
// authenticated route.
func IdentityFrom(ctx context.Context) *authn.Identity {
	id, _ := ctx.Value(identityKey).(*authn.Identity)
	return id
}

// TokenFrom returns the raw bearer token for the request.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
