package app

import (
	"context"
	"fmt"

	"github.com/danielhardy/obru-ai/internal/config"
	"github.com/danielhardy/obru-ai/internal/llm"
	"github.com/danielhardy/obru-ai/internal/llm/anthropic"
	"github.com/danielhardy/obru-ai/internal/llm/openai"
)

// TransportFactory 为每个会话创建独立的模型 Transport，工具列表按 Transport 保存。
type TransportFactory func(ctx context.Context) (llm.Transport, error)

// NewTransport 根据 llm 配置创建 Transport。
func NewTransport(ctx context.Context, cfg config.LLMConfig) (llm.Transport, error) {
	temperature := cfg.Temperature
	switch cfg.Provider {
	case openai.ProviderOpenAI, openai.ProviderOpenRouter:
		client, err := openai.NewClient(openai.Config{
			Provider:    cfg.Provider,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: &temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
			Referer:     cfg.Referer,
			Title:       cfg.Title,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case anthropic.ProviderName:
		client, err := anthropic.NewClient(ctx, anthropic.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: &temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
			UseBedrock:  cfg.Bedrock,
			AWSRegion:   cfg.AWSRegion,
			AWSProfile:  cfg.AWSProfile,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

// DefaultTransportFactory 返回按配置创建 Transport 的工厂。
func DefaultTransportFactory(cfg config.LLMConfig) TransportFactory {
	return func(ctx context.Context) (llm.Transport, error) {
		return NewTransport(ctx, cfg)
	}
}
