package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"whispermatch/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "APP_PORT", "STORE", "REDIS_ADDR", "TX_MAX_ATTEMPTS", "CONFIG_FILE"} {
		t.Setenv(k, "")
	}

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, config.Defaults().Limits, cfg.Limits)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("STORE", "postgres")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("TX_MAX_ATTEMPTS", "9")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, config.StorePostgres, cfg.Store)
	assert.Equal(t, "localhost:6380", cfg.RedisAddr)
	assert.Equal(t, 9, cfg.TxMaxAttempts)
}

func TestFromEnv_UnknownStore(t *testing.T) {
	t.Setenv("STORE", "firestore")
	_, err := config.FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisper.yaml")
	data := []byte(`
tx_max_attempts: 3
limits:
  send_per_second: 1
  send_burst: 2
  join_per_second: 1
  join_burst: 1
policy:
  extra_keywords: ["whatsapp", "代購"]
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("STORE", "")
	t.Setenv("TX_MAX_ATTEMPTS", "")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.TxMaxAttempts)
	assert.Equal(t, 2, cfg.Limits.SendBurst)
	assert.Equal(t, []string{"whatsapp", "代購"}, cfg.Policy.ExtraKeywords)
}

func TestApplyFile_Missing(t *testing.T) {
	cfg := config.Defaults()
	assert.Error(t, cfg.ApplyFile(filepath.Join(t.TempDir(), "nope.yaml")))
}
