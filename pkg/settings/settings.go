// Package settings defines the declarative gateway configuration: clusters,
// SSH credential issuance, authentication, and the data transfer backend.
//
// Settings are immutable after load. Mutable runtime state (health snapshots,
// connection pools) is owned by other packages and keyed by cluster name.
package settings

import "time"

// SchedulerKind identifies a job scheduler implementation.
type SchedulerKind string

const (
	SchedulerSlurm SchedulerKind = "slurm"
	SchedulerPBS   SchedulerKind = "pbs"
)

// CredentialKind identifies an SSH credential issuance mechanism.
type CredentialKind string

const (
	// CredentialSSHCA signs short-lived certificates via an SSH certificate authority.
	CredentialSSHCA CredentialKind = "sshca"

	// CredentialKeyService requests ephemeral keypairs from a key-issuance service.
	CredentialKeyService CredentialKind = "sshservice"

	// CredentialStaticKeys uses pre-provisioned per-user keys from configuration.
	CredentialStaticKeys CredentialKind = "sshstatickeys"
)

// TransferKind identifies a data transfer backend.
type TransferKind string

const (
	TransferS3       TransferKind = "s3"
	TransferWormhole TransferKind = "wormhole"
)

// FileSystemDataType tags the purpose of a mounted filesystem.
type FileSystemDataType string

const (
	DataTypeUsers   FileSystemDataType = "users"
	DataTypeStore   FileSystemDataType = "store"
	DataTypeArchive FileSystemDataType = "archive"
	DataTypeApps    FileSystemDataType = "apps"
	DataTypeScratch FileSystemDataType = "scratch"
	DataTypeProject FileSystemDataType = "project"
)

// Settings is the root gateway configuration, loaded once at startup.
type Settings struct {
	Auth          Auth          `yaml:"auth"`
	SSHCredential SSHCredential `yaml:"ssh_credentials"`
	Clusters      []*Cluster    `yaml:"clusters"`
	ClustersPath  string        `yaml:"clusters_path"`
	DataOperation DataOperation `yaml:"data_operation"`
}

// Auth groups authentication configuration.
type Auth struct {
	Authentication OIDC `yaml:"authentication"`
}

// OIDC configures bearer token verification and the service-account token endpoint.
type OIDC struct {
	// PublicCerts lists JWKS endpoints to fetch signing keys from at startup.
	PublicCerts []string `yaml:"public_certs"`

	// UsernameClaim names the token claim carrying the username.
	UsernameClaim string `yaml:"username_claim"`

	// JWKAlgorithm overrides algorithm inference for keys without an "alg" field.
	JWKAlgorithm string `yaml:"jwk_algorithm"`

	// Audience, when set, is verified against the token "aud" claim.
	Audience string `yaml:"audience"`

	// TokenURL is the client-credentials grant endpoint used by health checks.
	TokenURL string `yaml:"token_url"`

	// Scopes requested during the client-credentials exchange.
	Scopes []string `yaml:"scopes"`
}

// SSHCredential selects and configures a credential issuance mechanism.
type SSHCredential struct {
	Type CredentialKind `yaml:"type"`

	// URL of the CA or key-issuance service (sshca, sshservice).
	URL string `yaml:"url"`

	// MaxRequests bounds concurrent requests to the issuance service. Zero
	// means no limit.
	MaxRequests int `yaml:"max_requests"`

	// Keys maps usernames to pre-provisioned keys (sshstatickeys).
	Keys map[string]UserKeys `yaml:"keys"`
}

// UserKeys is a pre-provisioned SSH keypair for a single user.
type UserKeys struct {
	PrivateKey  string `yaml:"private_key"`
	Certificate string `yaml:"certificate"`
}

// Cluster describes one HPC system. Immutable after load.
type Cluster struct {
	// Name uniquely identifies the cluster. Compared case-insensitively and
	// normalized to lowercase at load time.
	Name string `yaml:"name"`

	SSH            SSHPool        `yaml:"ssh"`
	Scheduler      Scheduler      `yaml:"scheduler"`
	ServiceAccount ServiceAccount `yaml:"service_account"`
	Probing        Probing        `yaml:"probing"`
	FileSystems    []FileSystem   `yaml:"file_systems"`

	// TransferDirectives are extra scheduler flags for proxy transfer jobs
	// (e.g. "-p xfer" for a dedicated partition). A literal "{account}" in a
	// directive is substituted with the caller's account at submission time.
	TransferDirectives []string `yaml:"datatransfer_jobs_directives"`
}

// DefaultWorkDir returns the path of the filesystem marked default_work_dir,
// or "" when none is configured.
func (c *Cluster) DefaultWorkDir() string {
	for _, fs := range c.FileSystems {
		if fs.DefaultWorkDir {
			return fs.Path
		}
	}
	return ""
}

// SSHPool configures remote execution access to a cluster.
type SSHPool struct {
	Host       string      `yaml:"host"`
	Port       int         `yaml:"port"`
	ProxyHost  string      `yaml:"proxy_host"`
	ProxyPort  int         `yaml:"proxy_port"`
	MaxClients int         `yaml:"max_clients"`
	Timeouts   SSHTimeouts `yaml:"timeouts"`
}

// SSHTimeouts holds per-operation SSH timeouts, in seconds.
type SSHTimeouts struct {
	Connection       int `yaml:"connection"`
	Login            int `yaml:"login"`
	CommandExecution int `yaml:"command_execution"`
	Idle             int `yaml:"idle_timeout"`
	KeepAlive        int `yaml:"keep_alive"`
}

// ConnectionTimeout returns the dial timeout.
func (t SSHTimeouts) ConnectionTimeout() time.Duration {
	return secondsOr(t.Connection, 5*time.Second)
}

// ExecutionTimeout returns the per-command timeout.
func (t SSHTimeouts) ExecutionTimeout() time.Duration {
	return secondsOr(t.CommandExecution, 5*time.Second)
}

// IdleTimeout returns the max idle time before a pooled session is pruned.
func (t SSHTimeouts) IdleTimeout() time.Duration {
	return secondsOr(t.Idle, 60*time.Second)
}

// KeepAliveInterval returns the keep-alive probe interval.
func (t SSHTimeouts) KeepAliveInterval() time.Duration {
	return secondsOr(t.KeepAlive, 5*time.Second)
}

// Scheduler configures the cluster's job scheduler client.
type Scheduler struct {
	Type       SchedulerKind `yaml:"type"`
	Version    string        `yaml:"version"`
	APIURL     string        `yaml:"api_url"`
	APIVersion string        `yaml:"api_version"`

	// TimeoutSeconds bounds scheduler command execution. Defaults to 10.
	TimeoutSeconds int `yaml:"timeout"`
}

// Timeout returns the scheduler communication timeout.
func (s Scheduler) Timeout() time.Duration {
	return secondsOr(s.TimeoutSeconds, 10*time.Second)
}

// ServiceAccount holds client credentials used by health-check probes.
type ServiceAccount struct {
	ClientID string `yaml:"client_id"`
	Secret   string `yaml:"secret"`
}

// Probing configures periodic cluster health checks.
type Probing struct {
	// IntervalSeconds between check cycles.
	IntervalSeconds int `yaml:"interval"`

	// TimeoutSeconds bounds each individual probe.
	TimeoutSeconds int `yaml:"timeout"`
}

// Interval returns the check cycle interval.
func (p Probing) Interval() time.Duration {
	return secondsOr(p.IntervalSeconds, 120*time.Second)
}

// Timeout returns the per-probe timeout.
func (p Probing) Timeout() time.Duration {
	return secondsOr(p.TimeoutSeconds, 10*time.Second)
}

// FileSystem describes a mounted cluster filesystem.
type FileSystem struct {
	Path           string             `yaml:"path"`
	DataType       FileSystemDataType `yaml:"data_type"`
	DefaultWorkDir bool               `yaml:"default_work_dir"`
}

// DataOperation groups data movement configuration.
type DataOperation struct {
	// MaxOpsFileSize is the largest file size (bytes) served by direct
	// upload/download; larger files go through the staging area.
	MaxOpsFileSize int64 `yaml:"max_ops_file_size"`

	DataTransfer *DataTransfer `yaml:"data_transfer"`
}

// DataTransfer configures the staging backend used for large files.
type DataTransfer struct {
	Type TransferKind `yaml:"type"`

	// Name identifies the storage in health reporting.
	Name string `yaml:"name"`

	// PrivateURL is the storage endpoint reachable from the clusters.
	PrivateURL string `yaml:"private_url"`

	// PublicURL is the storage endpoint reachable by end users.
	PublicURL string `yaml:"public_url"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`

	// TTLSeconds is the expiry for presigned URLs.
	TTLSeconds int `yaml:"ttl"`

	// Tenant enables multi-tenant bucket addressing ("tenant:bucket").
	Tenant string `yaml:"tenant"`

	// BucketNamePrefix is prepended to per-user bucket names.
	BucketNamePrefix string `yaml:"bucket_name_prefix"`

	Multipart MultipartConfig `yaml:"multipart"`
	Lifecycle LifecycleConfig `yaml:"bucket_lifecycle_configuration"`
}

// TTL returns the presigned URL expiry.
func (d *DataTransfer) TTL() time.Duration {
	return secondsOr(d.TTLSeconds, time.Hour)
}

// MultipartConfig tunes multipart staging transfers.
type MultipartConfig struct {
	// UseSplit enables splitting large files into parts on the cluster side.
	UseSplit bool `yaml:"use_split"`

	// MaxPartSize is the maximum part size in bytes. Defaults to 2 GiB.
	MaxPartSize int64 `yaml:"max_part_size"`

	// ParallelRuns is the number of parts uploaded in parallel by the proxy job.
	ParallelRuns int `yaml:"parallel_runs"`

	// TmpFolder holds split parts during egress uploads.
	TmpFolder string `yaml:"tmp_folder"`
}

// LifecycleConfig configures automatic object expiry on created buckets.
type LifecycleConfig struct {
	// Days after which staged objects expire. Defaults to 10.
	Days int `yaml:"days"`
}

func secondsOr(s int, def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s) * time.Second
}
