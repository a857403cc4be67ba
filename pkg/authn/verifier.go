package authn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

const (
	fetchTimeout  = 2 * time.Second
	fetchAttempts = 3
)

// verificationKey pairs a public key with its resolved signature algorithm.
type verificationKey struct {
	key jwk.Key
	alg jwa.SignatureAlgorithm
}

// Verifier validates bearer tokens against a fixed key cache.
//
// The cache is populated once at construction from all configured JWKS
// endpoints and never mutated afterward, so concurrent reads need no
// synchronization. Key rotation requires a process restart.
type Verifier struct {
	keys          map[string]verificationKey
	usernameClaim string
	audience      string
}

// NewVerifier fetches signing keys from every configured endpoint and builds
// the verification key cache. Individual endpoint failures are logged and
// skipped; an unmappable key algorithm aborts construction.
func NewVerifier(ctx context.Context, cfg settings.OIDC, logger *zap.Logger) (*Verifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &Verifier{
		keys:          make(map[string]verificationKey),
		usernameClaim: cfg.UsernameClaim,
		audience:      cfg.Audience,
	}
	if v.usernameClaim == "" {
		v.usernameClaim = "preferred_username"
	}

	for _, endpoint := range cfg.PublicCerts {
		set, err := fetchKeySet(ctx, endpoint)
		if err != nil {
			logger.Warn("Unable to fetch public keys",
				zap.String("endpoint", endpoint),
				zap.Error(err))
			continue
		}

		for i := 0; i < set.Len(); i++ {
			key, ok := set.Key(i)
			if !ok {
				continue
			}
			identifier := key.KeyID()
			if identifier == "" {
				identifier = key.X509CertThumbprint()
			}
			if identifier == "" {
				continue
			}

			alg, err := resolveAlgorithm(key, cfg.JWKAlgorithm)
			if err != nil {
				return nil, err
			}
			v.keys[identifier] = verificationKey{key: key, alg: alg}
		}
	}

	return v, nil
}

// KeyCount returns the number of cached verification keys.
func (v *Verifier) KeyCount() int {
	return len(v.keys)
}

// Verify validates the token's signature, expiry, and audience (when
// configured) and returns the derived Identity.
//
// The four failure modes are distinct sentinels: gwerr.ErrKeyNotFound,
// gwerr.ErrTokenExpired, gwerr.ErrTokenInvalid, gwerr.ErrInactiveAuth.
func (v *Verifier) Verify(accessToken string) (*Identity, error) {
	identifier, err := keyIdentifier(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerr.ErrTokenInvalid, err)
	}

	vk, ok := v.keys[identifier]
	if !ok {
		return nil, fmt.Errorf("key id %q: %w", identifier, gwerr.ErrKeyNotFound)
	}

	opts := []jwt.ParseOption{
		jwt.WithKey(vk.alg, vk.key),
		jwt.WithValidate(true),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	tok, err := jwt.Parse([]byte(accessToken), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("%w: %v", gwerr.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", gwerr.ErrTokenInvalid, err)
	}

	id := identityFromToken(tok, v.usernameClaim)
	if !id.Active {
		return nil, gwerr.ErrInactiveAuth
	}
	return id, nil
}

// keyIdentifier extracts kid (or x5t) from the unverified token header.
func keyIdentifier(accessToken string) (string, error) {
	msg, err := jws.Parse([]byte(accessToken))
	if err != nil {
		return "", err
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return "", fmt.Errorf("token carries no signature")
	}
	headers := sigs[0].ProtectedHeaders()
	if kid := headers.KeyID(); kid != "" {
		return kid, nil
	}
	if x5t := headers.X509CertThumbprint(); x5t != "" {
		return x5t, nil
	}
	return "", fmt.Errorf("token header carries no key identifier")
}

// fetchKeySet retrieves a JWKS document from an http(s) or file endpoint.
func fetchKeySet(ctx context.Context, endpoint string) (jwk.Set, error) {
	if path, ok := strings.CutPrefix(endpoint, "file://"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return jwk.Parse(data)
	}

	client := &http.Client{Timeout: fetchTimeout}
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}

		data, err := fetchOnce(ctx, client, endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		return jwk.Parse(data)
	}
	return nil, lastErr
}

func fetchOnce(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}
