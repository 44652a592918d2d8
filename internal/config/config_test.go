package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogDrop/internal/schema"
)

func noEnvFile(t *testing.T) {
	t.Setenv("CATALOGDROP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDefaults(t *testing.T) {
	noEnvFile(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Equal(t, int64(defaultMaxFileSize), cfg.MaxFileSize)
	assert.Equal(t, defaultSignedTTL, cfg.SignedURLTTL)
	assert.Equal(t, defaultWorkerCount, cfg.ProcessingPool)
	assert.Equal(t, defaultMaxRowErrors, cfg.MaxRowErrors)
	assert.Equal(t, schema.ProductMapping, cfg.FieldMap)
	assert.Contains(t, cfg.AllowedTypes, "text/csv")
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	noEnvFile(t)
	t.Setenv("CATALOGDROP_WORKERS", "-3")
	t.Setenv("CATALOGDROP_MAX_FILE_BYTES", "not-a-number")
	t.Setenv("CATALOGDROP_SIGNED_TTL", "2m")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("CATALOGDROP_FIELD_MAP", "KEY=unique_key, TITLE=product_title, PRICE=piece_price")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultWorkerCount, cfg.ProcessingPool)
	assert.Equal(t, int64(defaultMaxFileSize), cfg.MaxFileSize)
	assert.Equal(t, 2*time.Minute, cfg.SignedURLTTL)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, []string{"KEY", "TITLE"}, cfg.FieldMap.Required())
}

func TestLoadRejectsBadFieldMap(t *testing.T) {
	noEnvFile(t)
	t.Setenv("CATALOGDROP_FIELD_MAP", "TITLE=product_title")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CATALOGDROP_QUEUE=bulk\nS3_BUCKET=from-file\n"), 0o600))
	t.Setenv("CATALOGDROP_ENV_FILE", path)
	t.Setenv("S3_BUCKET", "from-env")
	t.Cleanup(func() { os.Unsetenv("CATALOGDROP_QUEUE") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bulk", cfg.QueueName)
	assert.Equal(t, "from-env", cfg.S3Bucket)
}

func TestValidate(t *testing.T) {
	cfg := &Config{FieldMap: schema.ProductMapping, SignedURLTTL: 8 * 24 * time.Hour}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "exceeds 7 days")
}
