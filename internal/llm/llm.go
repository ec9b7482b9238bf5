package llm

import (
	"context"
	"encoding/json"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/jsonvalue"
)

// Role 表示消息在对话中的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是对话记录中的一条消息。
// Content 仅在携带工具调用的 assistant 消息中为 nil，编码为 JSON null。
type Message struct {
	Role       Role              `json:"role"`
	Content    *string           `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// FunctionCall 是模型请求调用的函数。Arguments 保留接收到的原始 JSON，
// 可能是 JSON 字符串，也可能是对象。
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallRequest 是模型回复中的原始工具调用。
type ToolCallRequest struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ParsedToolCall 是参数已解码的工具调用，用于派发执行。
type ParsedToolCall struct {
	ID        string
	Name      string
	Arguments jsonvalue.Object
}

// Usage 记录一次调用的 token 消耗。
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// ModelReply 是一次模型调用的结果。
type ModelReply struct {
	Content         *string
	RawToolCalls    []ToolCallRequest
	ParsedToolCalls []ParsedToolCall
	Model           string
	Usage           Usage
}

// Text 返回回复文本，缺失时返回空字符串。
func (r *ModelReply) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return *r.Content
}

// HasToolCalls 判断回复是否包含需要派发的工具调用。
func (r *ModelReply) HasToolCalls() bool {
	return r != nil && len(r.ParsedToolCalls) > 0
}

// APIFunction 描述向模型公布的函数。
type APIFunction struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  jsonvalue.Object `json:"parameters"`
}

// APITool 是请求体 tools 字段中的一项。
type APITool struct {
	Type     string      `json:"type"`
	Function APIFunction `json:"function"`
}

// Transport 负责与模型服务交换对话并返回回复，本身不保存对话状态。
type Transport interface {
	// SetTools 替换后续请求中公布的工具列表，空列表表示不携带工具。
	SetTools(tools []APITool)
	// Generate 发送对话并返回模型回复。
	Generate(ctx context.Context, messages []Message) (*ModelReply, error)
}

// CodeModelRequestFailed 表示模型请求失败（网络错误、非 2xx 响应或无法解析的响应）。
const CodeModelRequestFailed xerrors.Code = "MODEL_REQUEST_FAILED"

// ErrModelRequestFailed 用于 errors.Is 判断。
var ErrModelRequestFailed = xerrors.New(CodeModelRequestFailed, "model request failed")

func init() {
	xerrors.Register(CodeModelRequestFailed, xerrors.Attributes{
		Message:   "failed to generate response from the model",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// RequestFailed 将底层错误包装为 MODEL_REQUEST_FAILED。
func RequestFailed(cause error, provider string) error {
	return xerrors.Wrap(CodeModelRequestFailed, cause,
		"failed to generate response from the model",
		xerrors.WithMetadata("provider", provider))
}

// Text 返回字符串指针，便于构造消息。
func Text(s string) *string {
	return &s
}

// SystemMessage 构造 system 消息。
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: Text(content)}
}

// UserMessage 构造 user 消息。
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: Text(content)}
}

// AssistantMessage 构造普通 assistant 消息。
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: Text(content)}
}

// ToolCallMessage 构造携带工具调用的 assistant 消息，内容为空。
func ToolCallMessage(calls []ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: nil, ToolCalls: CloneToolCalls(calls)}
}

// ToolResultMessage 构造工具结果消息。
func ToolResultMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: Text(content), ToolCallID: callID, Name: name}
}

// Text 返回消息文本，内容缺失时返回空字符串。
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Clone 深拷贝消息。
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = Text(*m.Content)
	}
	out.ToolCalls = CloneToolCalls(m.ToolCalls)
	return out
}

// CloneMessages 深拷贝消息列表。
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}

// CloneToolCalls 深拷贝工具调用列表。
func CloneToolCalls(calls []ToolCallRequest) []ToolCallRequest {
	if calls == nil {
		return nil
	}
	out := make([]ToolCallRequest, len(calls))
	for i, call := range calls {
		out[i] = call
		if call.Function.Arguments != nil {
			out[i].Function.Arguments = append(json.RawMessage(nil), call.Function.Arguments...)
		}
	}
	return out
}
