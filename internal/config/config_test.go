package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.InternalPort)
	assert.Equal(t, "http://localhost:3002", cfg.App.DashboardURL)
	assert.Equal(t, 51820, cfg.Gerbil.ClientsStartPort)
	assert.Equal(t, "warren", cfg.Telemetry.ServiceName)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warren.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  internal_port: 4001
  secret: hunter2
app:
  dashboard_url: https://pangolin.example.com
gerbil:
  clients_start_port: 52000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4001, cfg.Server.InternalPort)
	assert.Equal(t, "hunter2", cfg.Server.Secret)
	assert.Equal(t, "https://pangolin.example.com", cfg.App.DashboardURL)
	assert.Equal(t, 52000, cfg.Gerbil.ClientsStartPort)
	// Untouched sections keep their defaults.
	assert.Equal(t, "data", cfg.App.StateDir)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Server.InternalPort)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warren.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  internal_port: 4001\n"), 0o600))

	t.Setenv("WARREN_INTERNAL_PORT", "5001")
	t.Setenv("WARREN_DASHBOARD_URL", "https://env.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Server.InternalPort)
	assert.Equal(t, "https://env.example.com", cfg.App.DashboardURL)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warren.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Database.URL = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Server.InternalPort = 70000
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Gerbil.ClientsStartPort = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.App.StateDir = ""
	assert.Error(t, bad.Validate())
}
