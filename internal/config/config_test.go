package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "obru.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "llm:\n  api_key: sk-test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 1000, cfg.LLM.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, DefaultBasePrompt, cfg.Agent.BasePrompt)
	assert.Equal(t, "memory", cfg.TaskQueue.Driver)
	assert.Equal(t, "memory", cfg.TaskStore.Driver)
	assert.Equal(t, 3, cfg.TaskStore.MaxRetries)
	assert.True(t, cfg.Tools.CurrentTime)
	assert.Empty(t, cfg.Auth.Keys)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openrouter
  api_key: k
tools:
  manifest: tools.yaml
  knowledge: /abs/knowledge.json
workflows:
  chain_file: chains/workflows.yaml
  watch: true
task_store:
  driver: sqlite
agent:
  llm_timeout: 45s
  max_parallel_tools: 4
`)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tools.yaml"), cfg.Tools.Manifest)
	assert.Equal(t, "/abs/knowledge.json", cfg.Tools.Knowledge)
	assert.Equal(t, filepath.Join(dir, "chains", "workflows.yaml"), cfg.Workflows.ChainFile)
	assert.True(t, cfg.Workflows.Watch)
	assert.Equal(t, filepath.Join(dir, "obru.db"), cfg.TaskStore.DSN)
	assert.Equal(t, 45*time.Second, cfg.Agent.LLMTimeout)
	assert.Equal(t, 4, cfg.Agent.MaxParallelTools)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: anthropic\nauth:\n  keys: [\"${OBRU_TEST_KEY}\", \"\"]\n")
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	t.Setenv("OBRU_SERVER_ADDRESS", "127.0.0.1:9999")
	t.Setenv("OBRU_TEST_KEY", "team-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Address)
	assert.Equal(t, []string{"team-key"}, cfg.Auth.Keys)
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: llama
task_queue:
  driver: kafka
task_store:
  driver: mysql
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "task_queue.driver")
	assert.Contains(t, err.Error(), "task_store.dsn")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
