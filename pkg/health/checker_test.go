package health

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcbridge/hpcbridge/pkg/authn"
	"github.com/hpcbridge/hpcbridge/pkg/credentials"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
)

// When the service-account token exchange fails, the cycle publishes exactly
// one exception record and surfaces the error; no probe runs.
func TestRunCycle_TokenExchangeFailure(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer idp.Close()

	cluster := &settings.Cluster{
		Name: "daint",
		ServiceAccount: settings.ServiceAccount{
			ClientID: "hpcbridge-health",
			Secret:   "wrong",
		},
		FileSystems: []settings.FileSystem{{Path: "/scratch"}},
	}
	oidc := settings.OIDC{TokenURL: idp.URL + "/token"}

	table := NewTable()
	checker := NewChecker(cluster, oidc, nil, nil, nil, table, nil)

	err := checker.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token exchange")

	snapshot, ok := table.Snapshot("daint")
	require.True(t, ok, "a failed cycle still publishes")
	require.Len(t, snapshot, 1)
	rec := snapshot[0]
	assert.Equal(t, ServiceException, rec.ServiceType)
	assert.False(t, rec.Healthy)
	assert.Contains(t, rec.Message, "cluster health check execution failed")
}

// serviceTokenIssuer signs a service-account token and writes the matching
// public JWKS to disk so a real verifier can validate it over file://.
func serviceTokenIssuer(t *testing.T) (token string, verifier *authn.Verifier) {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "health-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := key.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	data, err := json.Marshal(set)
	require.NoError(t, err)
	jwksPath := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(jwksPath, data, 0o600))

	tok, err := jwt.NewBuilder().
		Issuer("https://idp.example.com").
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Claim("preferred_username", "health-sa").
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)

	verifier, err = authn.NewVerifier(context.Background(), settings.OIDC{
		PublicCerts:   []string{"file://" + jwksPath},
		UsernameClaim: "preferred_username",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, verifier.KeyCount())

	return string(signed), verifier
}

// A configured staging store gets its own snapshot slot, last in order, and
// any HTTP response from the endpoint counts as healthy.
func TestRunCycle_ObjectStorageRecord(t *testing.T) {
	token, verifier := serviceTokenIssuer(t)

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, token)
	}))
	defer idp.Close()

	// The store rejects the unauthenticated request; reachability is what the
	// record reports.
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer store.Close()

	cluster := &settings.Cluster{
		Name:      "daint",
		SSH:       settings.SSHPool{Host: "daint.example.com", Port: 22},
		Scheduler: settings.Scheduler{Type: settings.SchedulerSlurm},
		ServiceAccount: settings.ServiceAccount{
			ClientID: "hpcbridge-health",
			Secret:   "secret",
		},
		FileSystems: []settings.FileSystem{{Path: "/scratch"}},
	}
	st := &settings.Settings{Clusters: []*settings.Cluster{cluster}}
	oidc := settings.OIDC{TokenURL: idp.URL + "/token"}
	dt := &settings.DataTransfer{
		Type:       settings.TransferS3,
		PrivateURL: store.URL,
	}

	table := NewTable()
	// No static keys configured: every SSH-backed probe fails fast at the
	// credential lookup, leaving the storage record as the only healthy one.
	registry := sshpool.NewRegistry(st, credentials.NewStaticProvider(nil), nil)
	checker := NewChecker(cluster, oidc, dt, registry, verifier, table, nil)

	require.NoError(t, checker.RunCycle(context.Background()))

	snapshot, ok := table.Snapshot("daint")
	require.True(t, ok)
	require.Len(t, snapshot, 4)

	assert.Equal(t, ServiceScheduler, snapshot[0].ServiceType)
	assert.False(t, snapshot[0].Healthy)
	assert.Equal(t, ServiceSSH, snapshot[1].ServiceType)
	assert.False(t, snapshot[1].Healthy)
	assert.Equal(t, ServiceFilesystem, snapshot[2].ServiceType)
	assert.Equal(t, "/scratch", snapshot[2].Path)

	s3 := snapshot[3]
	assert.Equal(t, ServiceS3, s3.ServiceType)
	assert.True(t, s3.Healthy, "a reachable store is healthy even when it rejects the request")
	assert.False(t, s3.LastChecked.IsZero())
}
