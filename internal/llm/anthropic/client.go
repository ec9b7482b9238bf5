// Package anthropic adapts the Anthropic Messages API, reached directly or
// through AWS Bedrock, to the llm.Transport interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/danielhardy/obru-ai/internal/llm"
)

const (
	// ProviderName 用于错误元数据与指标标签。
	ProviderName = "anthropic"

	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
	defaultTimeout     = 60 * time.Second

	toolErrorPrefix = "Error executing tool "

	// emptyText 替代空文本，Messages API 拒绝空的文本块。
	emptyText = "(empty)"
)

// Config 描述 Anthropic 客户端配置。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	// UseBedrock 为 true 时通过 AWS Bedrock 调用，忽略 APIKey。
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
}

// Client 实现 llm.Transport。
type Client struct {
	inner       anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64

	mu    sync.RWMutex
	tools []anthropic.ToolUnionParam
}

// NewClient 创建 Anthropic 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("未提供 Anthropic API Key")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	model := anthropic.Model(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	return &Client{
		inner:       anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

// Provider 返回提供方名称。
func (c *Client) Provider() string {
	return ProviderName
}

// SetTools 将 OpenAI 风格的工具描述转换为 Anthropic 工具定义。
func (c *Client) SetTools(tools []llm.APITool) {
	converted := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Function.Parameters.Get("properties"); ok {
			if obj, ok := props.AsObject(); ok {
				schema.Properties = obj.Interface()
			}
		}
		if req, ok := t.Function.Parameters.Get("required"); ok {
			items, _ := req.AsArray()
			for _, item := range items {
				if name, ok := item.AsString(); ok {
					schema.Required = append(schema.Required, name)
				}
			}
		}
		param := &anthropic.ToolParam{
			Name:        t.Function.Name,
			InputSchema: schema,
		}
		if t.Function.Description != "" {
			param.Description = anthropic.String(t.Function.Description)
		}
		converted = append(converted, anthropic.ToolUnionParam{OfTool: param})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = converted
}

// Generate 将对话转换为 Messages API 请求并解析回复。
func (c *Client) Generate(ctx context.Context, messages []llm.Message) (*llm.ModelReply, error) {
	system, params, err := convertMessages(messages)
	if err != nil {
		return nil, llm.RequestFailed(err, ProviderName)
	}

	req := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    params,
		Temperature: anthropic.Float(c.temperature),
	}
	if len(system) > 0 {
		req.System = system
	}
	c.mu.RLock()
	if len(c.tools) > 0 {
		req.Tools = c.tools
	}
	c.mu.RUnlock()

	resp, err := c.inner.Messages.New(ctx, req)
	if err != nil {
		return nil, llm.RequestFailed(fmt.Errorf("请求 Anthropic 失败: %w", err), ProviderName)
	}

	var (
		text     strings.Builder
		hasText  bool
		rawCalls []llm.ToolCallRequest
	)
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
			hasText = true
		case anthropic.ToolUseBlock:
			input := json.RawMessage(variant.Input)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			rawCalls = append(rawCalls, llm.ToolCallRequest{
				ID:       variant.ID,
				Type:     "function",
				Function: llm.FunctionCall{Name: variant.Name, Arguments: input},
			})
		}
	}
	parsed, err := llm.ParseToolCalls(rawCalls)
	if err != nil {
		return nil, llm.RequestFailed(err, ProviderName)
	}

	reply := &llm.ModelReply{
		RawToolCalls:    rawCalls,
		ParsedToolCalls: parsed,
		Model:           string(resp.Model),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}
	if hasText {
		reply.Content = llm.Text(text.String())
	}
	return reply, nil
}

// convertMessages 拆出 system 提示，并把对话转换为 Messages API 的消息。
// 连续的工具结果合并为同一条 user 消息。
func convertMessages(messages []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var (
		system  []anthropic.TextBlockParam
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range messages {
		if msg.Role != llm.RoleTool {
			flush()
		}
		switch msg.Role {
		case llm.RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case llm.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(nonEmpty(msg.Text()))))
		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := msg.Text(); strings.TrimSpace(text) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, call := range msg.ToolCalls {
				args, err := llm.DecodeArguments(call.Function.Arguments)
				if err != nil {
					return nil, nil, fmt.Errorf("工具调用 %s 参数无效: %w", call.ID, err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Function.Name))
			}
			// 空的助手回复不发送，否则整个会话后续请求都会被拒绝。
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case llm.RoleTool:
			content := msg.Text()
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, nonEmpty(content), strings.HasPrefix(content, toolErrorPrefix)))
		default:
			return nil, nil, fmt.Errorf("未知的消息角色: %s", msg.Role)
		}
	}
	flush()
	return system, out, nil
}

func nonEmpty(text string) string {
	if strings.TrimSpace(text) == "" {
		return emptyText
	}
	return text
}
