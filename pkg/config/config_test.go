package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTHLY_ID", strings.Repeat("ab", 32))
}

func TestLoadRequiresAuthlyID(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHLY_ID")
}

func TestLoadRejectsZeroAuthlyID(t *testing.T) {
	t.Setenv("AUTHLY_ID", strings.Repeat("00", 32))
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-zero")
}

func TestLoadRejectsShortAuthlyID(t *testing.T) {
	t.Setenv("AUTHLY_ID", "abcd")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoadRejectsNonHexAuthlyID(t *testing.T) {
	t.Setenv("AUTHLY_ID", "not-hex-"+strings.Repeat("z", 56))
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	setMinimalEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Hostname)
	assert.Equal(t, 4433, cfg.ServerPort)
	assert.Equal(t, "/var/lib/authly", cfg.DataDir)
	assert.Equal(t, "/etc/authly", cfg.EtcDir)
	assert.False(t, cfg.ExportTLSToEtc)
	assert.False(t, cfg.K8s.Enabled)
	assert.Equal(t, 1, cfg.K8s.Replicas)
	assert.Equal(t, 4434, cfg.K8s.AuthServerPort)
}

func TestLoadReadsOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("AUTHLY_HOSTNAME", "authly.prod.svc")
	t.Setenv("AUTHLY_SERVER_PORT", "9443")
	t.Setenv("AUTHLY_DATA_DIR", "/data")
	t.Setenv("AUTHLY_BAO_URL", "https://bao.internal:8200")
	t.Setenv("AUTHLY_BAO_TOKEN", "s.token")
	t.Setenv("AUTHLY_CLUSTER_NODE_ID", "node-1")
	t.Setenv("AUTHLY_K8S", "true")
	t.Setenv("AUTHLY_K8S_REPLICAS", "3")
	t.Setenv("AUTHLY_EXPORT_TLS_TO_ETC", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "authly.prod.svc", cfg.Hostname)
	assert.Equal(t, 9443, cfg.ServerPort)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, "https://bao.internal:8200", cfg.BaoURL)
	assert.Equal(t, "s.token", cfg.BaoToken)
	assert.Equal(t, "node-1", cfg.Cluster.NodeID)
	assert.True(t, cfg.K8s.Enabled)
	assert.Equal(t, 3, cfg.K8s.Replicas)
	assert.True(t, cfg.ExportTLSToEtc)
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("AUTHLY_SERVER_PORT", "not-a-port")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHLY_SERVER_PORT")
}

func TestLoadRejectsMalformedBool(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("AUTHLY_K8S", "maybe")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHLY_K8S")
}
