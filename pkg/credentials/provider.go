// Package credentials turns a verified identity into ephemeral SSH credentials.
//
// Three issuance mechanisms are supported: an SSH certificate authority, a
// remote key-issuance service, and static pre-provisioned keys. The mechanism
// is selected once from configuration; see pkg/resolve.
package credentials

import (
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Credential is a ready-to-use SSH authentication secret for one user.
type Credential struct {
	// Username the credential authenticates as.
	Username string

	// Signer performs the SSH handshake. For certificate-based issuance this
	// is a cert signer; otherwise a plain key signer.
	Signer ssh.Signer
}

// Provider issues SSH credentials on behalf of a verified user.
//
// Implementations must be safe for concurrent use; connection pools request
// credentials lazily whenever a new session is established.
type Provider interface {
	// Credential returns SSH authentication material for the given user.
	// The access token is forwarded to issuance services that authorize the
	// request against the caller's identity.
	Credential(ctx context.Context, username, accessToken string) (*Credential, error)
}

// parseSigner builds an ssh.Signer from a PEM private key and an optional
// certificate in authorized-keys format.
func parseSigner(privateKey, certificate []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if len(certificate) == 0 {
		return signer, nil
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(certificate)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	cert, ok := pub.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("certificate material is not an SSH certificate")
	}
	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("build certificate signer: %w", err)
	}
	return certSigner, nil
}
