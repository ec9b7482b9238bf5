package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
	"github.com/danielhardy/obru-ai/internal/llm"
)

func newServer(t *testing.T, status int, response string, body *map[string]any, apiKey *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if apiKey != nil {
			*apiKey = r.Header.Get("X-Api-Key")
		}
		if body != nil {
			if err := json.NewDecoder(r.Body).Decode(body); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
}

func TestGenerateText(t *testing.T) {
	var body map[string]any
	var key string
	srv := newServer(t, http.StatusOK, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"pong"}],"stop_reason":"end_turn",
		"usage":{"input_tokens":5,"output_tokens":1}}`, &body, &key)

	client, err := NewClient(context.Background(), Config{APIKey: "secret", BaseURL: srv.URL, Model: "claude-test"})
	require.NoError(t, err)

	reply, err := client.Generate(context.Background(), []llm.Message{
		llm.SystemMessage("You are a test agent."),
		llm.UserMessage("ping"),
	})
	require.NoError(t, err)

	assert.Equal(t, "pong", reply.Text())
	assert.Equal(t, int64(5), reply.Usage.PromptTokens)
	assert.Equal(t, "secret", key)
	assert.Equal(t, "claude-test", body["model"])
	system := body["system"].([]any)
	assert.Equal(t, "You are a test agent.", system[0].(map[string]any)["text"])
	assert.Len(t, body["messages"], 1)
	assert.NotContains(t, body, "tools")
}

func TestGenerateToolUse(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"tool_use","id":"toolu_1","name":"reverse","input":{"text":"abc"}}],
		"stop_reason":"tool_use","usage":{"input_tokens":5,"output_tokens":1}}`, nil, nil)

	client, err := NewClient(context.Background(), Config{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	reply, err := client.Generate(context.Background(), []llm.Message{llm.UserMessage("reverse abc")})
	require.NoError(t, err)

	assert.Nil(t, reply.Content)
	require.Len(t, reply.ParsedToolCalls, 1)
	call := reply.ParsedToolCalls[0]
	assert.Equal(t, "toolu_1", call.ID)
	assert.Equal(t, "reverse", call.Name)
	text, _ := call.Arguments.String("text")
	assert.Equal(t, "abc", text)
	assert.Equal(t, "toolu_1", reply.RawToolCalls[0].ID)
}

func TestGenerateSendsToolsAndResults(t *testing.T) {
	var body map[string]any
	srv := newServer(t, http.StatusOK, `{"id":"msg_3","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"done"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`, &body, nil)

	client, err := NewClient(context.Background(), Config{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)
	client.SetTools([]llm.APITool{{
		Type: "function",
		Function: llm.APIFunction{
			Name:        "reverse",
			Description: "reverses text",
			Parameters: jsonvalue.Object{
				"type":       jsonvalue.String("object"),
				"properties": jsonvalue.ObjectValue(jsonvalue.Object{"text": jsonvalue.ObjectValue(jsonvalue.Object{"type": jsonvalue.String("string")})}),
				"required":   jsonvalue.Array(jsonvalue.String("text")),
			},
		},
	}})

	calls := []llm.ToolCallRequest{
		{ID: "toolu_1", Type: "function", Function: llm.FunctionCall{Name: "reverse", Arguments: json.RawMessage(`"{\"text\":\"abc\"}"`)}},
		{ID: "toolu_2", Type: "function", Function: llm.FunctionCall{Name: "missing", Arguments: json.RawMessage(`{}`)}},
	}
	_, err = client.Generate(context.Background(), []llm.Message{
		llm.SystemMessage("sys"),
		llm.UserMessage("reverse abc"),
		llm.ToolCallMessage(calls),
		llm.ToolResultMessage("toolu_1", "reverse", "cba"),
		llm.ToolResultMessage("toolu_2", "missing", `Error executing tool missing: tool "missing" not found`),
	})
	require.NoError(t, err)

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "reverse", tool["name"])
	schema := tool["input_schema"].(map[string]any)
	assert.Equal(t, []any{"text"}, schema["required"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	assistant := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	use := assistant["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_use", use["type"])
	assert.Equal(t, map[string]any{"text": "abc"}, use["input"])

	results := msgs[2].(map[string]any)
	assert.Equal(t, "user", results["role"])
	blocks := results["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "toolu_1", blocks[0].(map[string]any)["tool_use_id"])
	assert.Equal(t, true, blocks[1].(map[string]any)["is_error"])
}

func TestConvertMessagesReplacesEmptyText(t *testing.T) {
	call := llm.ToolCallRequest{
		ID:       "toolu_1",
		Type:     "function",
		Function: llm.FunctionCall{Name: "lookup", Arguments: json.RawMessage(`{}`)},
	}
	messages := []llm.Message{
		llm.SystemMessage("sys"),
		llm.UserMessage(""),
		llm.AssistantMessage(""),
		llm.UserMessage("next"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCallRequest{call}},
		{Role: llm.RoleTool, Content: llm.Text(""), ToolCallID: "toolu_1", Name: "lookup"},
	}

	system, out, err := convertMessages(messages)
	require.NoError(t, err)
	require.Len(t, system, 1)
	assert.Equal(t, "sys", system[0].Text)

	// 空的助手回复被跳过，空的用户输入与工具结果使用占位文本。
	require.Len(t, out, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	require.NotNil(t, out[0].Content[0].OfText)
	assert.Equal(t, emptyText, out[0].Content[0].OfText.Text)

	require.NotNil(t, out[1].Content[0].OfText)
	assert.Equal(t, "next", out[1].Content[0].OfText.Text)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[2].Role)
	require.Len(t, out[2].Content, 1)
	assert.NotNil(t, out[2].Content[0].OfToolUse)

	require.NotNil(t, out[3].Content[0].OfToolResult)
	for _, block := range out[3].Content[0].OfToolResult.Content {
		require.NotNil(t, block.OfText)
		assert.Equal(t, emptyText, block.OfText.Text)
	}
}

func TestGenerateFailure(t *testing.T) {
	srv := newServer(t, http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, nil, nil)

	client, err := NewClient(context.Background(), Config{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMessage("hi")})
	assert.ErrorIs(t, err, llm.ErrModelRequestFailed)
}
