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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 168*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 20, cfg.MaxConcurrentJobs)
	assert.Equal(t, 2, cfg.MaxUserJobs)
	assert.Equal(t, "local", cfg.StorageDriver)
	assert.False(t, cfg.Secure())
	assert.Equal(t, "text", cfg.LogFormat())
	assert.Equal(t, 2*time.Second, cfg.MockRenderStep)
	assert.Empty(t, cfg.AdminEmail)
}

func TestLoadFromEnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OMNIAVATAR_DATABASE_PATH=/tmp/omni.db\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("OMNIAVATAR_DATABASE_PATH") })

	t.Setenv("OMNIAVATAR_ENV", "production")
	t.Setenv("OMNIAVATAR_MAX_USER_JOBS", "5")
	t.Setenv("OMNIAVATAR_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DODOPAYMENTS_API_KEY", "")
	t.Setenv("OMNIAVATAR_DODOPAYMENTS_API_KEY", "pk_test")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.True(t, cfg.Secure())
	assert.Equal(t, "json", cfg.LogFormat())
	assert.Equal(t, 5, cfg.MaxUserJobs)
	assert.Equal(t, "/tmp/omni.db", cfg.DatabasePath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "pk_test", cfg.PaymentAPIKey)
}
