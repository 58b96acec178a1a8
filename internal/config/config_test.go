package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Address)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Empty(t, cfg.Password)
	assert.NotEmpty(t, cfg.CertDir)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), Overrides{})
	require.NoError(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, "address: 10.0.0.1\nport: 4000\npassword: secret\nserviceName: myterm\n")

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Address)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "myterm", cfg.ServiceName)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	path := writeConfig(t, "port: [not a number\n")
	_, err := Load(path, Overrides{})
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 4000\npassword: from-file\n")
	t.Setenv("TERMAWAY_PORT", "5000")
	t.Setenv("TERMAWAY_PASSWORD", "from-env")

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "from-env", cfg.Password)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("TERMAWAY_PORT", "5000")

	port := 6000
	cfg, err := Load("", Overrides{Port: &port})
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
}

func TestInvalidPortEnvFails(t *testing.T) {
	t.Setenv("TERMAWAY_PORT", "not-a-port")
	_, err := Load("", Overrides{})
	require.Error(t, err)
}
