package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: dir, SkipValidation: true})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 12*time.Hour, cfg.Pki.RefreshInterval)
	assert.Equal(t, 24*time.Hour, cfg.Pki.OcspStaleAfter)
	assert.Equal(t, 10, cfg.Limits.MaxCommunicationsPerDay)
	assert.Equal(t, 16, cfg.Limits.MaxActivateRetries)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.yaml")
	yamlContent := `
pki:
  tsl_url: https://example.invalid/tsl.xml
  bnetza_url: https://example.invalid/bnetza.xml
  puk_token_url: https://example.invalid/puk_token
vau:
  private_key_path: /etc/erxfd/vau.key
limits:
  max_communications_per_day: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(LoaderOptions{ConfigDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "https://example.invalid/tsl.xml", cfg.Pki.TslURL)
	assert.Equal(t, 5, cfg.Limits.MaxCommunicationsPerDay)
	// defaults still apply where the file is silent
	assert.Equal(t, 10*24*time.Hour, cfg.Vau.PseudonymKeyTTL)
}

func TestValidateRequiredFields(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	issues := Validate(cfg)
	assert.Contains(t, issues, "pki.tsl_url is required")
	assert.Contains(t, issues, "vau.private_key_path is required")
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("ERXFD_TEST_VAR", "resolved")
	defer os.Unsetenv("ERXFD_TEST_VAR")

	assert.Equal(t, "resolved", SubstituteEnvVars("${ERXFD_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${ERXFD_TEST_MISSING:fallback}"))
}

func TestEnvironmentDetection(t *testing.T) {
	os.Unsetenv("ERXFD_ENV")
	os.Unsetenv("ENVIRONMENT")
	assert.Equal(t, "development", GetEnvironment())
	assert.True(t, IsDevelopment())

	os.Setenv("ERXFD_ENV", "production")
	defer os.Unsetenv("ERXFD_ENV")
	assert.True(t, IsProduction())
}
