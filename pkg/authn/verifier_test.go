package authn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

type testIssuer struct {
	key      jwk.Key
	jwksPath string
}

// newTestIssuer generates a signing key and writes its public JWKS next to
// the test, served to the verifier over file://.
func newTestIssuer(t *testing.T, kid string) *testIssuer {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := key.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	data, err := json.Marshal(set)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return &testIssuer{key: key, jwksPath: path}
}

func (i *testIssuer) sign(t *testing.T, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer("https://idp.example.com").
		IssuedAt(time.Now())
	b = build(b)
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, i.key))
	require.NoError(t, err)
	return string(signed)
}

func newTestVerifier(t *testing.T, issuer *testIssuer, audience string) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), settings.OIDC{
		PublicCerts:   []string{"file://" + issuer.jwksPath},
		UsernameClaim: "preferred_username",
		Audience:      audience,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, v.KeyCount())
	return v
}

func TestVerify_ValidToken(t *testing.T) {
	issuer := newTestIssuer(t, "test-key")
	v := newTestVerifier(t, issuer, "")

	token := issuer.sign(t, func(b *jwt.Builder) *jwt.Builder {
		return b.
			Subject("u-123").
			Expiration(time.Now().Add(time.Hour)).
			Claim("preferred_username", "alice").
			Claim("scope", "storage compute")
	})

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.True(t, id.Active)
	assert.True(t, id.HasScope("compute"))
	assert.False(t, id.HasScope("admin"))
	assert.Equal(t, "u-123", id.Claims["sub"])
}

// The four failure modes must stay distinguishable: the request layer maps
// each to a different response.
func TestVerify_DistinctFailureModes(t *testing.T) {
	issuer := newTestIssuer(t, "test-key")
	v := newTestVerifier(t, issuer, "")

	t.Run("expired", func(t *testing.T) {
		token := issuer.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.
				Expiration(time.Now().Add(-time.Hour)).
				Claim("preferred_username", "alice")
		})
		_, err := v.Verify(token)
		require.ErrorIs(t, err, gwerr.ErrTokenExpired)
	})

	t.Run("unknown key id", func(t *testing.T) {
		stranger := newTestIssuer(t, "other-key")
		token := stranger.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.Expiration(time.Now().Add(time.Hour))
		})
		_, err := v.Verify(token)
		require.ErrorIs(t, err, gwerr.ErrKeyNotFound)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := v.Verify("not.a.token")
		require.ErrorIs(t, err, gwerr.ErrTokenInvalid)
	})

	t.Run("bad signature", func(t *testing.T) {
		// Same kid, different private key.
		impostor := newTestIssuer(t, "test-key")
		token := impostor.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.Expiration(time.Now().Add(time.Hour))
		})
		_, err := v.Verify(token)
		require.ErrorIs(t, err, gwerr.ErrTokenInvalid)
	})

	t.Run("inactive identity", func(t *testing.T) {
		token := issuer.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.
				Expiration(time.Now().Add(time.Hour)).
				Claim("preferred_username", "alice").
				Claim("active", false)
		})
		_, err := v.Verify(token)
		require.ErrorIs(t, err, gwerr.ErrInactiveAuth)
	})
}

func TestVerify_Audience(t *testing.T) {
	issuer := newTestIssuer(t, "test-key")
	v := newTestVerifier(t, issuer, "hpcbridge")

	t.Run("matching audience", func(t *testing.T) {
		token := issuer.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.
				Expiration(time.Now().Add(time.Hour)).
				Audience([]string{"hpcbridge"}).
				Claim("preferred_username", "alice")
		})
		_, err := v.Verify(token)
		assert.NoError(t, err)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token := issuer.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.
				Expiration(time.Now().Add(time.Hour)).
				Audience([]string{"someone-else"})
		})
		_, err := v.Verify(token)
		require.ErrorIs(t, err, gwerr.ErrTokenInvalid)
	})
}

func TestNewVerifier_UnreachableEndpointSkipped(t *testing.T) {
	issuer := newTestIssuer(t, "test-key")
	v, err := NewVerifier(context.Background(), settings.OIDC{
		PublicCerts: []string{
			"file:///does/not/exist/jwks.json",
			"file://" + issuer.jwksPath,
		},
	}, nil)
	require.NoError(t, err, "an unreachable endpoint must not abort construction")
	assert.Equal(t, 1, v.KeyCount())
}
