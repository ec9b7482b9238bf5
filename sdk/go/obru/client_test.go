package obru

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhardy/obru-ai/internal/agent"
	"github.com/danielhardy/obru-ai/internal/api"
	"github.com/danielhardy/obru-ai/internal/llm"
	"github.com/danielhardy/obru-ai/internal/session"
	"github.com/danielhardy/obru-ai/internal/task"
	"github.com/danielhardy/obru-ai/internal/tool"
	"github.com/danielhardy/obru-ai/internal/workflow"
)

type upperTransport struct{}

func (upperTransport) SetTools([]llm.APITool) {}

func (upperTransport) Generate(_ context.Context, messages []llm.Message) (*llm.ModelReply, error) {
	return &llm.ModelReply{Content: llm.Text(strings.ToUpper(messages[len(messages)-1].Text()))}, nil
}

// newServer 启动真实的 API 服务，任务由内存队列与处理器执行。
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	workflows := workflow.NewRegistry(workflow.Step{
		Name:        "echo",
		Description: "single turn",
		Execute: func(ctx context.Context, r workflow.Runner, input string) (string, error) {
			return r.Process(ctx, input)
		},
	})
	tools := tool.NewRegistry(tool.CurrentTime(nil))
	manager := session.NewManager(func(string) (*agent.Orchestrator, error) {
		return agent.New(upperTransport{}, "sys",
			agent.WithWorkflowRegistry(workflows),
			agent.WithTools(tools.List()...)), nil
	})

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	processor := task.NewProcessor(manager, store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	srv := httptest.NewServer(api.NewServer("", manager,
		api.WithTools(tools),
		api.WithWorkflows(workflows),
		api.WithTasks(task.NewService(store, queue, 2)),
	).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func TestSessionRoundTrip(t *testing.T) {
	srv := newServer(t)
	client := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	reply, err := client.Chat(ctx, "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", reply.Reply)
	require.NotEmpty(t, reply.SessionID)

	require.NoError(t, client.UpdatePrompt(ctx, reply.SessionID, "terse"))
	messages, err := client.Messages(ctx, reply.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "terse", messages[0].Text())

	require.NoError(t, client.Reset(ctx, reply.SessionID))
	messages, err = client.Messages(ctx, reply.SessionID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	require.NoError(t, client.DeleteSession(ctx, reply.SessionID))
	_, err = client.Messages(ctx, reply.SessionID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "SESSION_NOT_FOUND", apiErr.Code)
}

func TestCatalogAndWorkflow(t *testing.T) {
	srv := newServer(t)
	client := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "getCurrentTime", tools[0].Name)
	assert.Equal(t, "object", tools[0].Parameters["type"])

	flows, err := client.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "echo", flows[0].Name)

	out, err := client.RunWorkflow(ctx, "echo", "", "quiet")
	require.NoError(t, err)
	assert.Equal(t, "QUIET", out.Output)

	_, err = client.RunWorkflow(ctx, "missing", "", "x")
	assert.True(t, IsNotFound(err))
}

func TestTaskLifecycle(t *testing.T) {
	srv := newServer(t)
	client := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	submitted, err := client.SubmitTask(ctx, TaskRequest{Kind: KindChat, Input: "later", SessionID: "bg"})
	require.NoError(t, err)
	require.NotEmpty(t, submitted.ID)

	done, err := client.WaitForTask(ctx, submitted.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "LATER", done.Result.Output)

	tasks, err := client.ListTasks(ctx, TaskFilter{Statuses: []string{StatusSucceeded}, SessionID: "bg"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, submitted.ID, tasks[0].ID)

	_, err = client.SubmitTask(ctx, TaskRequest{Kind: "bogus", Input: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestAPIKeyAndPlainErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Path == "/api/v1/tools" {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "UNAUTHENTICATED", "message": "invalid api key"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", WithAPIKey("secret"), WithTimeout(time.Second))

	_, err := client.ListTools(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)

	_, err = client.ListWorkflows(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "UNAUTHENTICATED", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "invalid api key")
	assert.EqualValues(t, 2, calls.Load())
}
