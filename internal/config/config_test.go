package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 5, cfg.WorkerBatchSize)
	assert.Equal(t, 3, cfg.WorkerMaxAttempts)
	assert.Equal(t, int64(5*1024*1024), cfg.MaxImageBytes)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxPDFBytes)
	assert.Equal(t, 20, cfg.MaxPDFPages)
	assert.Equal(t, 10, cfg.ScalingTargetPerReplica)
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("WORKER_BATCH_SIZE", "8")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 8, cfg.WorkerBatchSize)
	assert.False(t, cfg.WorkerEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, float64(20), cfg.RateLimitRPS)
}

func TestValidateRejectsBrokenSettings(t *testing.T) {
	cfg := Load()
	cfg.WorkerBatchSize = 0
	cfg.ScalingMinReplicas = 5
	cfg.ScalingMaxReplicas = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_BATCH_SIZE")
	assert.Contains(t, err.Error(), "SCALING_MAX_REPLICAS")
}

func TestLoadDotEnvKeepsExistingEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOCPIPE_TEST_A=from-file\nDOCPIPE_TEST_B=\"quoted value\"\n"), 0o600))

	t.Setenv("DOCPIPE_TEST_A", "from-env")
	t.Setenv("DOCPIPE_TEST_B", "")
	require.NoError(t, os.Unsetenv("DOCPIPE_TEST_B"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("DOCPIPE_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("DOCPIPE_TEST_B"))
}

func TestLoadYAMLDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docpipe.yml")
	content := "DOCPIPE_TEST_PORT: 9090\nDOCPIPE_TEST_ORIGINS:\n  - https://a.example\n  - https://b.example\nDOCPIPE_TEST_KEEP: yaml\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("DOCPIPE_TEST_KEEP", "env")
	t.Setenv("DOCPIPE_TEST_PORT", "")
	require.NoError(t, os.Unsetenv("DOCPIPE_TEST_PORT"))
	t.Setenv("DOCPIPE_TEST_ORIGINS", "")
	require.NoError(t, os.Unsetenv("DOCPIPE_TEST_ORIGINS"))

	require.NoError(t, LoadYAMLDefaults(path))
	assert.Equal(t, "9090", os.Getenv("DOCPIPE_TEST_PORT"))
	assert.Equal(t, "https://a.example,https://b.example", os.Getenv("DOCPIPE_TEST_ORIGINS"))
	assert.Equal(t, "env", os.Getenv("DOCPIPE_TEST_KEEP"))
}

func TestLoadYAMLDefaultsMissingFile(t *testing.T) {
	require.NoError(t, LoadYAMLDefaults(filepath.Join(t.TempDir(), "absent.yml")))
	require.NoError(t, LoadYAMLDefaults(""))
}
