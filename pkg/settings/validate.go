package settings

import (
	"fmt"
	"strings"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
)

// Validate checks the invariants that must hold before the gateway starts.
// Violations are fatal: they abort startup rather than surfacing per-request.
func (s *Settings) Validate() error {
	switch s.SSHCredential.Type {
	case CredentialSSHCA, CredentialKeyService:
		if s.SSHCredential.URL == "" {
			return gwerr.NewConfigError("ssh_credentials.url",
				"credential provider %q requires a service url", s.SSHCredential.Type)
		}
	case CredentialStaticKeys:
		if len(s.SSHCredential.Keys) == 0 {
			return gwerr.NewConfigError("ssh_credentials.keys",
				"credential provider %q requires at least one user key", s.SSHCredential.Type)
		}
	default:
		return gwerr.NewConfigError("ssh_credentials.type",
			"unsupported credential provider kind %q", s.SSHCredential.Type)
	}

	seen := make(map[string]bool, len(s.Clusters))
	for i, c := range s.Clusters {
		field := fmt.Sprintf("clusters[%d]", i)
		if c.Name == "" {
			return gwerr.NewConfigError(field+".name", "cluster name is required")
		}
		if seen[c.Name] {
			return gwerr.NewConfigError(field+".name", "duplicate cluster name %q", c.Name)
		}
		seen[c.Name] = true

		if c.SSH.Host == "" {
			return gwerr.NewConfigError(field+".ssh.host", "ssh host is required")
		}

		defaults := 0
		for _, fs := range c.FileSystems {
			if fs.DefaultWorkDir {
				defaults++
			}
		}
		if defaults > 1 {
			return gwerr.NewConfigError(field+".file_systems",
				"cluster %q marks more than one filesystem as default_work_dir", c.Name)
		}
	}

	if dt := s.DataOperation.DataTransfer; dt != nil {
		switch dt.Type {
		case TransferS3:
			if dt.PrivateURL == "" || dt.PublicURL == "" {
				return gwerr.NewConfigError("data_operation.data_transfer",
					"s3 transfer backend requires private_url and public_url")
			}
		case TransferWormhole:
		default:
			return gwerr.NewConfigError("data_operation.data_transfer.type",
				"unsupported transfer backend kind %q", dt.Type)
		}

		// The transfer orchestrator stages files under the cluster's default
		// work directory; fail at startup, not at request time.
		for _, c := range s.Clusters {
			if c.DefaultWorkDir() == "" {
				return gwerr.NewConfigError("clusters",
					"cluster %q has no filesystem marked default_work_dir", c.Name)
			}
		}
	}

	return nil
}

// Cluster returns the cluster with the given name (case-insensitive), or nil.
func (s *Settings) Cluster(name string) *Cluster {
	name = strings.ToLower(name)
	for _, c := range s.Clusters {
		if c.Name == name {
			return c
		}
	}
	return nil
}
