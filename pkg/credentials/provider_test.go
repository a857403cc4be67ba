package credentials

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

// testPrivateKeyPEM returns a fresh ed25519 key in OpenSSH PEM format.
func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

func TestStaticProvider(t *testing.T) {
	pemKey := testPrivateKeyPEM(t)
	p := NewStaticProvider(map[string]settings.UserKeys{
		"alice": {PrivateKey: pemKey},
	})

	cred, err := p.Credential(context.Background(), "alice", "token")
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)
	require.NotNil(t, cred.Signer)

	t.Run("unknown user", func(t *testing.T) {
		_, err := p.Credential(context.Background(), "mallory", "token")
		require.Error(t, err)
		assert.True(t, gwerr.IsNotFound(err))
	})

	t.Run("garbage key material", func(t *testing.T) {
		bad := NewStaticProvider(map[string]settings.UserKeys{
			"bob": {PrivateKey: "not a key"},
		})
		_, err := bad.Credential(context.Background(), "bob", "token")
		assert.Error(t, err)
	})
}

func TestKeyServiceProvider(t *testing.T) {
	pemKey := testPrivateKeyPEM(t)

	var gotAuth string
	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req["username"])
		_ = json.NewEncoder(w).Encode(keyServiceResponse{PrivateKey: pemKey})
	}))
	defer svc.Close()

	p := NewKeyServiceProvider(svc.URL, 2)
	cred, err := p.Credential(context.Background(), "alice", "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)
	assert.NotNil(t, cred.Signer)
	assert.Equal(t, "Bearer tok-123", gotAuth, "the caller's token authorizes issuance")
}

func TestKeyServiceProvider_ServiceError(t *testing.T) {
	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user not entitled", http.StatusForbidden)
	}))
	defer svc.Close()

	p := NewKeyServiceProvider(svc.URL, 0)
	_, err := p.Credential(context.Background(), "alice", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestCAProvider(t *testing.T) {
	pemKey := testPrivateKeyPEM(t)

	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No certificate in the response: the signer falls back to the
		// plain key, which keeps this test free of CA key plumbing.
		_ = json.NewEncoder(w).Encode(caSignResponse{PrivateKey: pemKey})
	}))
	defer svc.Close()

	p := NewCAProvider(svc.URL, 4)
	cred, err := p.Credential(context.Background(), "alice", "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)
	assert.NotNil(t, cred.Signer)
}
