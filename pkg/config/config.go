/*
Package config reads Authly's environment-variable driven configuration
(spec §6) once at process startup. The teacher repo has no single config
package of its own — its flags live directly in cmd/warren/main.go as
cobra persistent flags — so this package has no teacher file to adapt.
It is kept on the standard library rather than a config framework
(viper, envconfig, etc. never appear in the teacher's or the wider
example pack's go.mod) specifically because that absence, plus the
teacher's general habit of doing simple explicit flag/env parsing
(cmd/warren/main.go's cobra flags, each read with a one-line default),
is itself the grounding: introducing a new framework here would be the
outlier, not following it (see DESIGN.md).
*/
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/protojour/authly/pkg/security"
)

// Config is every environment-variable-driven setting Authly reads at
// startup (spec §6's "Config: environment-variable driven").
type Config struct {
	// ID is AUTHLY_ID: a 32-byte instance UID, required and non-zero.
	ID [32]byte

	Hostname     string
	ServerPort   int
	DataDir      string
	EtcDir       string
	DocumentPath string

	// BaoURL/BaoToken select the OpenBao/Vault secrets backend
	// (pkg/security.NewBaoBackend); an empty BaoURL means the dev backend
	// (pkg/security.NewDevBackend) is used instead, whatever BaoToken holds.
	BaoURL   string
	BaoToken string

	Cluster Cluster

	K8s K8sConfig

	// ExportTLSToEtc materializes per-service identity PEMs under EtcDir
	// when true (spec §6's "export_tls_to_etc").
	ExportTLSToEtc bool
}

// Cluster groups AUTHLY_CLUSTER_* settings.
type Cluster struct {
	NodeID       string
	APIAddr      string
	RaftAddr     string
	SharedSecret string
}

// K8sConfig groups AUTHLY_K8S* settings. Enabled gates whether
// cmd/authlyd starts pkg/k8sauth's server at all.
type K8sConfig struct {
	Enabled        bool
	StatefulSet    string
	HeadlessSvc    string
	Replicas       int
	AuthServerPort int
}

// envError is returned for a malformed or missing required variable, so
// cmd/authlyd can exit non-zero with a clear message (spec §6's "exit
// codes: non-zero on initialization failure (missing ID, ...)").
type envError struct {
	Var string
	Err error
}

func (e *envError) Error() string { return fmt.Sprintf("config: %s: %v", e.Var, e.Err) }
func (e *envError) Unwrap() error { return e.Err }

// Load reads Config from the process environment. AUTHLY_ID must be
// present and decode to exactly 32 non-zero bytes; every other variable
// has a default suitable for local development.
func Load() (*Config, error) {
	idHex, ok := os.LookupEnv("AUTHLY_ID")
	if !ok || idHex == "" {
		return nil, &envError{Var: "AUTHLY_ID", Err: fmt.Errorf("required")}
	}
	idBytes, err := hex.DecodeString(idHex)
	if err != nil {
		return nil, &envError{Var: "AUTHLY_ID", Err: fmt.Errorf("not valid hex: %w", err)}
	}
	if len(idBytes) != 32 {
		return nil, &envError{Var: "AUTHLY_ID", Err: fmt.Errorf("must decode to 32 bytes, got %d", len(idBytes))}
	}
	var id [32]byte
	copy(id[:], idBytes)
	if id == ([32]byte{}) {
		return nil, &envError{Var: "AUTHLY_ID", Err: fmt.Errorf("must be non-zero")}
	}

	serverPort, err := intEnv("AUTHLY_SERVER_PORT", 4433)
	if err != nil {
		return nil, err
	}
	exportTLS, err := boolEnv("AUTHLY_EXPORT_TLS_TO_ETC", false)
	if err != nil {
		return nil, err
	}
	k8sEnabled, err := boolEnv("AUTHLY_K8S", false)
	if err != nil {
		return nil, err
	}
	k8sReplicas, err := intEnv("AUTHLY_K8S_REPLICAS", 1)
	if err != nil {
		return nil, err
	}
	k8sAuthPort, err := intEnv("AUTHLY_K8S_AUTH_SERVER_PORT", 4434)
	if err != nil {
		return nil, err
	}

	return &Config{
		ID:           id,
		Hostname:     stringEnv("AUTHLY_HOSTNAME", "localhost"),
		ServerPort:   serverPort,
		DataDir:      stringEnv("AUTHLY_DATA_DIR", "/var/lib/authly"),
		EtcDir:       stringEnv("AUTHLY_ETC_DIR", "/etc/authly"),
		DocumentPath: stringEnv("AUTHLY_DOCUMENT_PATH", ""),
		BaoURL:       stringEnv("AUTHLY_BAO_URL", ""),
		BaoToken:     stringEnv("AUTHLY_BAO_TOKEN", ""),
		Cluster: Cluster{
			NodeID:       stringEnv("AUTHLY_CLUSTER_NODE_ID", ""),
			APIAddr:      stringEnv("AUTHLY_CLUSTER_API_ADDR", ""),
			RaftAddr:     stringEnv("AUTHLY_CLUSTER_RAFT_ADDR", ""),
			SharedSecret: stringEnv("AUTHLY_CLUSTER_SHARED_SECRET", ""),
		},
		K8s: K8sConfig{
			Enabled:        k8sEnabled,
			StatefulSet:    stringEnv("AUTHLY_K8S_STATEFULSET", ""),
			HeadlessSvc:    stringEnv("AUTHLY_K8S_HEADLESS_SVC", ""),
			Replicas:       k8sReplicas,
			AuthServerPort: k8sAuthPort,
		},
		ExportTLSToEtc: exportTLS,
	}, nil
}

// SecretsBackend picks the OpenBao-backed secrets store when AUTHLY_BAO_URL
// is set, falling back to the in-memory dev backend otherwise. Production
// deployments are expected to set AUTHLY_BAO_URL; its absence is only ever
// appropriate for local development, matching the dev/production split
// pkg/security already draws between BaoBackend and DevBackend.
func (c *Config) SecretsBackend() security.SecretsBackend {
	if c.BaoURL != "" {
		return security.NewBaoBackend(c.BaoURL, c.BaoToken)
	}
	return security.NewDevBackend()
}

func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &envError{Var: key, Err: fmt.Errorf("not a valid integer: %w", err)}
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, &envError{Var: key, Err: fmt.Errorf("not a valid boolean: %w", err)}
	}
	return b, nil
}
