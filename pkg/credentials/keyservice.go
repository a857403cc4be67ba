package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// KeyServiceProvider obtains ephemeral SSH keypairs from a remote
// key-issuance service. Unlike the CA flow, the returned key is installed by
// the service on the cluster side, so no certificate is involved.
type KeyServiceProvider struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewKeyServiceProvider creates a provider backed by the issuance service at
// url. maxRequests bounds connections and request rate; zero disables it.
func NewKeyServiceProvider(url string, maxRequests int) *KeyServiceProvider {
	return &KeyServiceProvider{
		url:     url,
		client:  newIssuanceClient(maxRequests),
		limiter: newIssuanceLimiter(maxRequests),
	}
}

type keyServiceResponse struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// Credential requests an ephemeral keypair for username.
func (p *KeyServiceProvider) Credential(ctx context.Context, username, accessToken string) (*Credential, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ssh key service: %w", err)
		}
	}

	body, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return nil, fmt.Errorf("ssh key service: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ssh key service: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ssh key service: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("ssh key service returned %d: %s", res.StatusCode, bytes.TrimSpace(data))
	}

	var keys keyServiceResponse
	if err := json.NewDecoder(res.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("ssh key service: %w", err)
	}

	signer, err := parseSigner([]byte(keys.PrivateKey), nil)
	if err != nil {
		return nil, fmt.Errorf("ssh key service: %w", err)
	}
	return &Credential{Username: username, Signer: signer}, nil
}
