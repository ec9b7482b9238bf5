package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/danielhardy/obru-ai/internal/llm"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"

	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultModelName         = "gpt-4o-mini"
	defaultTemperature       = 0.7
	maxErrorMessage          = 2048
	defaultMaxTokens         = 1000
	defaultTimeout           = 60 * time.Second
	defaultReferer           = "https://github.com/danielhardy/obru-ai"
	defaultInitialBackoff    = time.Second
	defaultMaxBackoff        = 30 * time.Second
)

// Config 描述调用 OpenAI 兼容 Chat Completions 接口所需的信息。
type Config struct {
	// Provider 为 openai 或 openrouter，决定默认地址与附加请求头。
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	// MaxRetries 大于 0 时对 429、5xx 与网络错误重试。
	MaxRetries int
	// Referer 与 Title 只在 openrouter 下发送。
	Referer string
	Title   string
}

// Client 通过 HTTP 调用 OpenAI 兼容的大模型服务，实现 llm.Transport。
type Client struct {
	client      *resty.Client
	provider    string
	model       string
	temperature float64
	maxTokens   int

	mu    sync.RWMutex
	tools []llm.APITool
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供模型服务 API Key")
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "":
		provider = ProviderOpenAI
	case ProviderOpenAI, ProviderOpenRouter:
	default:
		return nil, fmt.Errorf("不支持的模型服务提供方: %s", cfg.Provider)
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
		if provider == ProviderOpenRouter {
			baseURL = defaultOpenRouterBaseURL
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(apiKey)

	if provider == ProviderOpenRouter {
		referer := strings.TrimSpace(cfg.Referer)
		if referer == "" {
			referer = defaultReferer
		}
		client.SetHeader("HTTP-Referer", referer)
		if title := strings.TrimSpace(cfg.Title); title != "" {
			client.SetHeader("X-Title", title)
		}
	}

	if cfg.MaxRetries > 0 {
		client.SetRetryCount(cfg.MaxRetries).
			SetRetryWaitTime(defaultInitialBackoff).
			SetRetryMaxWaitTime(defaultMaxBackoff)
		client.AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
	}

	return &Client{
		client:      client,
		provider:    provider,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Provider 返回提供方名称。
func (c *Client) Provider() string {
	return c.provider
}

// SetTools 替换后续请求公布的工具列表。
func (c *Client) SetTools(tools []llm.APITool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = append([]llm.APITool(nil), tools...)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []llm.APITool `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string               `json:"content"`
			ToolCalls []llm.ToolCallRequest `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate 发送对话并解析回复。
func (c *Client) Generate(ctx context.Context, messages []llm.Message) (*llm.ModelReply, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	c.mu.RLock()
	if len(c.tools) > 0 {
		body.Tools = c.tools
		body.ToolChoice = "auto"
	}
	c.mu.RUnlock()

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return nil, llm.RequestFailed(fmt.Errorf("请求 %s 失败: %w", c.provider, err), c.provider)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, llm.RequestFailed(statusError(resp.StatusCode(), resp.Body()), c.provider)
	}

	var decoded chatResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, llm.RequestFailed(fmt.Errorf("解析 %s 响应失败: %w", c.provider, err), c.provider)
	}
	if len(decoded.Choices) == 0 {
		return nil, llm.RequestFailed(fmt.Errorf("%s 响应中没有有效的 choices", c.provider), c.provider)
	}

	msg := decoded.Choices[0].Message
	parsed, err := llm.ParseToolCalls(msg.ToolCalls)
	if err != nil {
		return nil, llm.RequestFailed(err, c.provider)
	}

	return &llm.ModelReply{
		Content:         msg.Content,
		RawToolCalls:    msg.ToolCalls,
		ParsedToolCalls: parsed,
		Model:           decoded.Model,
		Usage:           decoded.Usage,
	}, nil
}

func statusError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		message = decoded.Error.Message
	}
	if len(message) > maxErrorMessage {
		cut := maxErrorMessage
		// 回退到字符边界，避免截断多字节字符。
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}
	return fmt.Errorf("HTTP %d: %s", status, message)
}
