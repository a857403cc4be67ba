package authn

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyFromRaw(t *testing.T, raw any) jwk.Key {
	t.Helper()
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	return key
}

func TestResolveAlgorithm_DeclaredAlgWins(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key := keyFromRaw(t, priv)
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS512))

	alg, err := resolveAlgorithm(key, "HS256")
	require.NoError(t, err)
	assert.Equal(t, jwa.RS512, alg)
}

func TestResolveAlgorithm_OverrideBeatsInference(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	alg, err := resolveAlgorithm(keyFromRaw(t, priv), "PS256")
	require.NoError(t, err)
	assert.Equal(t, jwa.SignatureAlgorithm("PS256"), alg)
}

func TestInferAlgorithm(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	p521, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	require.NoError(t, err)
	_, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  any
		want jwa.SignatureAlgorithm
	}{
		{"rsa defaults to RS256", rsaKey, jwa.RS256},
		{"symmetric defaults to HS256", []byte("0123456789abcdef0123456789abcdef"), jwa.HS256},
		{"ec P-256", p256, jwa.ES256},
		{"ec P-384", p384, jwa.ES384},
		{"ec P-521", p521, jwa.ES512},
		{"okp Ed25519", edPriv, jwa.EdDSA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alg, err := resolveAlgorithm(keyFromRaw(t, tt.raw), "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, alg)
		})
	}
}
