package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhardy/obru-ai/internal/config"
	"github.com/danielhardy/obru-ai/internal/knowledge"
	"github.com/danielhardy/obru-ai/internal/llm"
	"github.com/danielhardy/obru-ai/internal/llm/openai"
	"github.com/danielhardy/obru-ai/internal/observability/alerting"
	"github.com/danielhardy/obru-ai/internal/task"
)

type echoTransport struct{}

func (echoTransport) SetTools([]llm.APITool) {}

func (echoTransport) Generate(_ context.Context, messages []llm.Message) (*llm.ModelReply, error) {
	return &llm.ModelReply{Content: llm.Text("echo: " + messages[len(messages)-1].Text())}, nil
}

func echoFactory(context.Context) (llm.Transport, error) { return echoTransport{}, nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	chains := filepath.Join(dir, "workflows.yaml")
	require.NoError(t, os.WriteFile(chains, []byte(`
workflows:
  - name: twice
    description: asks twice
    steps:
      - "first {{.Input}}"
      - "second {{.Previous}}"
`), 0o644))
	kb := filepath.Join(dir, "kb.yaml")
	require.NoError(t, os.WriteFile(kb, []byte(`
- title: Go
  content: Go is a programming language.
  keywords: [go, golang]
`), 0o644))

	return &config.Config{
		Server:    config.ServerConfig{Address: "127.0.0.1:0"},
		LLM:       config.LLMConfig{Provider: "openai"},
		Agent:     config.AgentConfig{BasePrompt: config.DefaultBasePrompt},
		Tools:     config.ToolsConfig{CurrentTime: true, Knowledge: kb},
		Workflows: config.WorkflowsConfig{ChainFile: chains},
		TaskQueue: config.TaskQueueConfig{Driver: "memory", Workers: 2},
		TaskStore: config.TaskStoreConfig{Driver: "memory", MaxRetries: 2, TaskTimeout: 5 * time.Second},
		Log:       config.LogConfig{Level: "error"},
	}
}

func TestNewAssemblesCatalogs(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), WithTransportFactory(echoFactory), WithoutTasks())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Tools.Get("getCurrentTime")
	assert.True(t, ok)
	_, ok = a.Tools.Get(knowledge.ToolName)
	assert.True(t, ok)
	_, ok = a.Workflows.Get("twice")
	assert.True(t, ok)
	assert.Nil(t, a.Tasks)

	id, out, err := a.Sessions.RunWorkflow(context.Background(), "s1", "twice", "go")
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	assert.Equal(t, "echo: second echo: first go", out)

	messages, err := a.Sessions.Messages("s1")
	require.NoError(t, err)
	assert.Len(t, messages, 5)
}

func TestNewRejectsBrokenTransport(t *testing.T) {
	broken := func(context.Context) (llm.Transport, error) { return nil, errors.New("no key") }
	_, err := New(context.Background(), testConfig(t), WithTransportFactory(broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key")
}

func TestNewRejectsUnknownDrivers(t *testing.T) {
	cfg := testConfig(t)
	cfg.TaskStore.Driver = "cassandra"
	_, err := New(context.Background(), cfg, WithTransportFactory(echoFactory))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.TaskQueue.Driver = "kafka"
	_, err = New(context.Background(), cfg, WithTransportFactory(echoFactory))
	assert.Error(t, err)
}

func TestRunProcessesTasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.TaskStore.Driver = task.DriverSQLite
	cfg.TaskStore.DSN = filepath.Join(t.TempDir(), "tasks.db")

	a, err := New(context.Background(), cfg, WithTransportFactory(echoFactory))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()

	chat, err := a.Tasks.Submit(waitCtx, task.Request{Kind: task.KindChat, Input: "hello", SessionID: "bg"})
	require.NoError(t, err)
	got, err := a.Tasks.WaitUntilCompleted(waitCtx, chat.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "echo: hello", got.Result.Output)
	assert.Equal(t, "bg", got.SessionID)

	missing, err := a.Tasks.Submit(waitCtx, task.Request{Kind: task.KindWorkflow, Workflow: "missing", Input: "x"})
	require.NoError(t, err)
	got, err = a.Tasks.WaitUntilCompleted(waitCtx, missing.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", got.ErrorCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNewTransportSelectsProvider(t *testing.T) {
	tr, err := NewTransport(context.Background(), config.LLMConfig{Provider: "openrouter", APIKey: "k"})
	require.NoError(t, err)
	client, ok := tr.(*openai.Client)
	require.True(t, ok)
	assert.Equal(t, openai.ProviderOpenRouter, client.Provider())

	_, err = NewTransport(context.Background(), config.LLMConfig{Provider: "anthropic"})
	assert.Error(t, err)

	_, err = NewTransport(context.Background(), config.LLMConfig{Provider: "gemini", APIKey: "k"})
	assert.Error(t, err)
}

func TestBuildAlertingChannels(t *testing.T) {
	d := buildAlerting(config.AlertingConfig{WebhookURL: "http://hooks.local", SlackURL: "http://slack.local"})
	fanout, ok := d.(*alerting.FanoutDispatcher)
	require.True(t, ok)
	assert.ElementsMatch(t,
		[]alerting.Channel{alerting.ChannelLog, alerting.ChannelWebhook, alerting.ChannelSlack},
		fanout.Channels())
}
