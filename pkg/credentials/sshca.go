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

// CAProvider obtains short-lived SSH certificates from a certificate
// authority signing service.
type CAProvider struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewCAProvider creates a provider backed by the CA at url. maxRequests
// bounds both the connection count and the request rate against the service;
// zero disables the bound.
func NewCAProvider(url string, maxRequests int) *CAProvider {
	return &CAProvider{
		url:     url,
		client:  newIssuanceClient(maxRequests),
		limiter: newIssuanceLimiter(maxRequests),
	}
}

type caSignRequest struct {
	Username string `json:"username"`
}

type caSignResponse struct {
	PrivateKey  string `json:"private_key"`
	Certificate string `json:"certificate"`
}

// Credential requests a fresh keypair and certificate signed for username.
func (p *CAProvider) Credential(ctx context.Context, username, accessToken string) (*Credential, error) {
	var resp caSignResponse
	if err := p.post(ctx, accessToken, caSignRequest{Username: username}, &resp); err != nil {
		return nil, fmt.Errorf("ssh ca: %w", err)
	}

	signer, err := parseSigner([]byte(resp.PrivateKey), []byte(resp.Certificate))
	if err != nil {
		return nil, fmt.Errorf("ssh ca: %w", err)
	}
	return &Credential{Username: username, Signer: signer}, nil
}

func (p *CAProvider) post(ctx context.Context, accessToken string, in, out any) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("service returned %d: %s", res.StatusCode, bytes.TrimSpace(data))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func newIssuanceClient(maxRequests int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if maxRequests > 0 {
		transport.MaxConnsPerHost = maxRequests
	}
	return &http.Client{Transport: transport}
}

func newIssuanceLimiter(maxRequests int) *rate.Limiter {
	if maxRequests <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(maxRequests), maxRequests)
}
