package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konradekk14/llm-code-review-assistant/internal/config"
	"github.com/konradekk14/llm-code-review-assistant/internal/coordinator"
	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
)

const sampleYAML = `
server:
  port: 9000
logging:
  level: debug
  format: console
embeddings:
  base_url: http://embeddings:8080/v1
  model: BAAI/bge-small-en-v1.5
vectorstore:
  provider: chromem
retrieval:
  top_k: 3
  min_similarity: 0.5
coordinator:
  mode: fallback
  deadline: 90s
providers:
  - name: gpt
    type: openai
    base_url: https://api.openai.com/v1
    model: gpt-4o-mini
    api_key: sk-test
    role: primary
    timeout: 45s
  - name: local
    type: ollama
    base_url: http://localhost:11434
    model: qwen2.5-coder
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, coordinator.ModeFallback, cfg.Coordinator.Mode)
	assert.Equal(t, 90*time.Second, cfg.Coordinator.Deadline)
	assert.Equal(t, 3, cfg.Retrieval.TopK)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, provider.RolePrimary, cfg.Providers[0].Role)
	assert.Equal(t, 45*time.Second, cfg.Providers[0].Timeout)

	// Unset provider fields pick up defaults.
	assert.Equal(t, provider.RoleSecondary, cfg.Providers[1].Role)
	assert.Equal(t, 60*time.Second, cfg.Providers[1].Timeout)
	assert.Equal(t, 3, cfg.Providers[1].MaxRetries)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
providers:
  - name: gpt
    type: openai
    base_url: https://api.openai.com/v1
    model: gpt-4o-mini
`))
	require.NoError(t, err)

	assert.Equal(t, 8941, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, coordinator.ModeAggregate, cfg.Coordinator.Mode)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no providers", yaml: `server: {port: 9000}`},
		{
			name: "duplicate provider names",
			yaml: `
providers:
  - {name: gpt, type: openai, base_url: "https://x/v1", model: m}
  - {name: gpt, type: ollama, base_url: "http://y", model: m}
`,
		},
		{
			name: "bad provider type",
			yaml: `
providers:
  - {name: gpt, type: bard, base_url: "https://x/v1", model: m}
`,
		},
		{
			name: "auto_post without token",
			yaml: `
github: {auto_post: true}
providers:
  - {name: gpt, type: openai, base_url: "https://x/v1", model: m}
`,
		},
		{
			name: "bad log level",
			yaml: `
logging: {level: loud}
providers:
  - {name: gpt, type: openai, base_url: "https://x/v1", model: m}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithFile_RejectsOutsideAllowedDirs(t *testing.T) {
	_, err := config.LoadWithFile("/tmp/evil.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}
