package credentials

import (
	"context"
	"fmt"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

// StaticProvider serves pre-provisioned per-user keys from configuration.
// Intended for test and small static deployments.
type StaticProvider struct {
	keys map[string]settings.UserKeys
}

// NewStaticProvider creates a provider over the configured user keys.
func NewStaticProvider(keys map[string]settings.UserKeys) *StaticProvider {
	return &StaticProvider{keys: keys}
}

// Credential returns the configured key material for username. The access
// token is unused; authorization happened when the token was verified.
func (p *StaticProvider) Credential(ctx context.Context, username, accessToken string) (*Credential, error) {
	keys, ok := p.keys[username]
	if !ok {
		return nil, fmt.Errorf("no static ssh keys for user %q: %w", username, gwerr.ErrNotFound)
	}

	signer, err := parseSigner([]byte(keys.PrivateKey), []byte(keys.Certificate))
	if err != nil {
		return nil, fmt.Errorf("static keys for user %q: %w", username, err)
	}
	return &Credential{Username: username, Signer: signer}, nil
}
