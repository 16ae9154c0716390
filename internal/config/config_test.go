package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeTempConfig(t, `
mistral:
  api_key: "file-key"
  api_url: "https://mistral.example.com"
  ocr_model: "mistral-ocr-2505"
  chat_model: "mistral-small-latest"
  timeout_seconds: 30
structurer:
  max_retries: 3
  base_delay_ms: 500
  timeout_seconds: 45
cleaner:
  scale: 3.0
  block_size: 15
  offset: 4.0
logger:
  level: "debug"
  format: "json"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.Mistral.APIKey)
	assert.Equal(t, "https://mistral.example.com", cfg.Mistral.APIURL)
	assert.Equal(t, "mistral-ocr-2505", cfg.Mistral.OCRModel)
	assert.Equal(t, 30*time.Second, cfg.MistralTimeout())

	assert.Equal(t, 3, cfg.Structurer.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.StructurerBaseDelay())
	assert.Equal(t, 45*time.Second, cfg.StructurerTimeout())

	assert.Equal(t, 3.0, cfg.Cleaner.Scale)
	assert.Equal(t, 15, cfg.Cleaner.BlockSize)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoadConfigDefaultsFillGaps(t *testing.T) {
	// 只给了密钥，其余字段应落在默认值上
	path := writeTempConfig(t, `
mistral:
  api_key: "only-key"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "only-key", cfg.Mistral.APIKey)
	assert.Equal(t, "https://api.mistral.ai", cfg.Mistral.APIURL)
	assert.Equal(t, "mistral-ocr-latest", cfg.Mistral.OCRModel)
	assert.Equal(t, "ministral-8b-latest", cfg.Mistral.ChatModel)
	assert.Equal(t, 5, cfg.Structurer.MaxRetries)
	assert.Equal(t, time.Second, cfg.StructurerBaseDelay())
	assert.Equal(t, 2.0, cfg.Cleaner.Scale)
	assert.Equal(t, 11, cfg.Cleaner.BlockSize)
	assert.Equal(t, "", cfg.Tracing.Endpoint)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
mistral:
  api_key: "file-key"
`)
	t.Setenv("MISTRAL_API_KEY", "env-key")
	t.Setenv("MISTRAL_API_URL", "https://env.example.com")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Mistral.APIKey)
	assert.Equal(t, "https://env.example.com", cfg.Mistral.APIURL)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "mistral: [not a mapping")

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDurationHelpersGuardNonPositive(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 60*time.Second, cfg.MistralTimeout())
	assert.Equal(t, time.Second, cfg.StructurerBaseDelay())
	assert.Equal(t, 60*time.Second, cfg.StructurerTimeout())
}
