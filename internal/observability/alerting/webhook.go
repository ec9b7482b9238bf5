package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/danielhardy/obru-ai/pkg/logger"
)

// WebhookNotifier 以 JSON 形式将事件 POST 到任意 HTTP 端点。
type WebhookNotifier struct {
	client  *resty.Client
	url     string
	headers map[string]string
}

// NewWebhookNotifier 创建 WebhookNotifier。
func NewWebhookNotifier(url string, headers map[string]string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		client:  resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:     url,
		headers: headers,
	}
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送事件。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.url == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	return post(ctx, n.client.R().SetHeaders(n.headers).SetBody(event), n.url)
}

// SlackNotifier 通过 Slack incoming webhook 发送告警。
type SlackNotifier struct {
	client *resty.Client
	url    string
}

// NewSlackNotifier 创建 SlackNotifier。
func NewSlackNotifier(webhookURL string, timeout time.Duration) *SlackNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlackNotifier{
		client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:    webhookURL,
	}
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.url == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	payload := map[string]string{"text": "*" + event.Summary() + "*"}
	return post(ctx, n.client.R().SetBody(payload), n.url)
}

func post(ctx context.Context, req *resty.Request, url string) error {
	resp, err := req.SetContext(ctx).Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
