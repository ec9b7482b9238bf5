package main

import (
	"context"

	"github.com/danielhardy/obru-ai/internal/app"
	"github.com/danielhardy/obru-ai/internal/session"
	"github.com/danielhardy/obru-ai/pkg/logger"
	"github.com/danielhardy/obru-ai/sdk/go/obru"
)

// backend 是命令行客户端需要的操作，本地实现直接使用会话管理器，远程实现走 SDK。
type backend interface {
	Chat(ctx context.Context, sessionID, input string) (string, string, error)
	Messages(ctx context.Context, sessionID string) ([]obru.Message, error)
	Reset(ctx context.Context, sessionID string) error
	UpdatePrompt(ctx context.Context, sessionID, prompt string) error
	RunWorkflow(ctx context.Context, name, sessionID, input string) (string, error)
	Tools(ctx context.Context) ([]obru.CatalogEntry, error)
	Workflows(ctx context.Context) ([]obru.CatalogEntry, error)
	Close() error
}

// openBackend 根据 --server 选择远程或进程内实现。
func openBackend(ctx context.Context) (backend, error) {
	if serverURL != "" {
		return &remoteBackend{client: obru.NewClient(serverURL, obru.WithAPIKey(apiKey))}, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, app.WithoutTasks())
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a}, nil
}

type localBackend struct {
	app *app.App
}

func (b *localBackend) sessions() *session.Manager { return b.app.Sessions }

func (b *localBackend) Chat(ctx context.Context, sessionID, input string) (string, string, error) {
	return b.sessions().Chat(ctx, sessionID, input)
}

func (b *localBackend) Messages(_ context.Context, sessionID string) ([]obru.Message, error) {
	messages, err := b.sessions().Messages(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]obru.Message, 0, len(messages))
	for _, m := range messages {
		msg := obru.Message{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, call := range m.ToolCalls {
			var tc obru.ToolCall
			tc.ID, tc.Type = call.ID, call.Type
			tc.Function.Name = call.Function.Name
			tc.Function.Arguments = string(call.Function.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (b *localBackend) Reset(_ context.Context, sessionID string) error {
	return b.sessions().Reset(sessionID)
}

func (b *localBackend) UpdatePrompt(_ context.Context, sessionID, prompt string) error {
	return b.sessions().UpdatePrompt(sessionID, prompt)
}

func (b *localBackend) RunWorkflow(ctx context.Context, name, sessionID, input string) (string, error) {
	_, out, err := b.sessions().RunWorkflow(ctx, sessionID, name, input)
	return out, err
}

func (b *localBackend) Tools(context.Context) ([]obru.CatalogEntry, error) {
	var out []obru.CatalogEntry
	for _, t := range b.app.Tools.List() {
		out = append(out, obru.CatalogEntry{Name: t.Name, Description: t.Description, Parameters: t.Parameters.Interface()})
	}
	return out, nil
}

func (b *localBackend) Workflows(context.Context) ([]obru.CatalogEntry, error) {
	var out []obru.CatalogEntry
	for _, s := range b.app.Workflows.List() {
		out = append(out, obru.CatalogEntry{Name: s.Name, Description: s.Description})
	}
	return out, nil
}

func (b *localBackend) Close() error {
	defer logger.Sync()
	return b.app.Close()
}

type remoteBackend struct {
	client *obru.Client
}

func (b *remoteBackend) Chat(ctx context.Context, sessionID, input string) (string, string, error) {
	reply, err := b.client.Chat(ctx, sessionID, input)
	return reply.SessionID, reply.Reply, err
}

func (b *remoteBackend) Messages(ctx context.Context, sessionID string) ([]obru.Message, error) {
	return b.client.Messages(ctx, sessionID)
}

func (b *remoteBackend) Reset(ctx context.Context, sessionID string) error {
	return b.client.Reset(ctx, sessionID)
}

func (b *remoteBackend) UpdatePrompt(ctx context.Context, sessionID, prompt string) error {
	return b.client.UpdatePrompt(ctx, sessionID, prompt)
}

func (b *remoteBackend) RunWorkflow(ctx context.Context, name, sessionID, input string) (string, error) {
	res, err := b.client.RunWorkflow(ctx, name, sessionID, input)
	return res.Output, err
}

func (b *remoteBackend) Tools(ctx context.Context) ([]obru.CatalogEntry, error) {
	return b.client.ListTools(ctx)
}

func (b *remoteBackend) Workflows(ctx context.Context) ([]obru.CatalogEntry, error) {
	return b.client.ListWorkflows(ctx)
}

func (b *remoteBackend) Close() error { return nil }
