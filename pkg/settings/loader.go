package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Load reads and validates gateway settings from the given YAML file.
//
// When clusters_path is set, every *.yaml/*.yml file under that directory
// (recursively) is loaded as one cluster definition and appended to the
// inline clusters list.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("settings file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates settings from raw YAML bytes.
func LoadFromBytes(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid YAML in settings: %w", err)
	}

	if s.ClustersPath != "" {
		clusters, err := loadClustersDir(s.ClustersPath)
		if err != nil {
			return nil, err
		}
		s.Clusters = append(s.Clusters, clusters...)
	}

	s.ApplyDefaults()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// loadClustersDir loads one cluster definition per YAML file under dir.
func loadClustersDir(dir string) ([]*Cluster, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("clusters path %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("clusters path %s is not a directory", dir)
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "**", "*.{yaml,yml}"))
	if err != nil {
		return nil, fmt.Errorf("glob clusters path %s: %w", dir, err)
	}

	clusters := make([]*Cluster, 0, len(matches))
	for _, file := range matches {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read cluster file %s: %w", file, err)
		}
		var c Cluster
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("invalid YAML in cluster file %s: %w", file, err)
		}
		clusters = append(clusters, &c)
	}
	return clusters, nil
}

// ApplyDefaults fills optional fields with their documented defaults and
// normalizes cluster names to lowercase.
func (s *Settings) ApplyDefaults() {
	if s.Auth.Authentication.UsernameClaim == "" {
		s.Auth.Authentication.UsernameClaim = "preferred_username"
	}

	for _, c := range s.Clusters {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.SSH.Port == 0 {
			c.SSH.Port = 22
		}
		if c.SSH.MaxClients == 0 {
			c.SSH.MaxClients = 100
		}
	}

	if s.DataOperation.MaxOpsFileSize == 0 {
		s.DataOperation.MaxOpsFileSize = 5 * 1024 * 1024
	}

	if dt := s.DataOperation.DataTransfer; dt != nil {
		if dt.Multipart.MaxPartSize == 0 {
			dt.Multipart.MaxPartSize = 2 * 1024 * 1024 * 1024
		}
		if dt.Multipart.ParallelRuns == 0 {
			dt.Multipart.ParallelRuns = 3
		}
		if dt.Multipart.TmpFolder == "" {
			dt.Multipart.TmpFolder = "tmp"
		}
		if dt.Lifecycle.Days == 0 {
			dt.Lifecycle.Days = 10
		}
	}
}
