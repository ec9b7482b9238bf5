// Package app assembles the runtime from configuration: model transports,
// tools, workflows, sessions, the task pipeline and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielhardy/obru-ai/internal/agent"
	"github.com/danielhardy/obru-ai/internal/api"
	"github.com/danielhardy/obru-ai/internal/auth"
	"github.com/danielhardy/obru-ai/internal/config"
	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/knowledge"
	"github.com/danielhardy/obru-ai/internal/observability/alerting"
	"github.com/danielhardy/obru-ai/internal/observability/metrics"
	"github.com/danielhardy/obru-ai/internal/session"
	"github.com/danielhardy/obru-ai/internal/task"
	"github.com/danielhardy/obru-ai/internal/tool"
	"github.com/danielhardy/obru-ai/internal/tool/manifest"
	"github.com/danielhardy/obru-ai/internal/workflow"
	"github.com/danielhardy/obru-ai/pkg/logger"
)

const janitorInterval = time.Minute

// App 持有一次运行所需的全部组件。
type App struct {
	Config    *config.Config
	Tools     *tool.Registry
	Workflows *workflow.Catalog
	Sessions  *session.Manager
	// Tasks 在禁用任务管道时为 nil。
	Tasks *task.Service

	store     task.Store
	queue     task.Queue
	processor *task.Processor
	auth      *auth.Service
	log       *slog.Logger
}

type options struct {
	transports TransportFactory
	noTasks    bool
}

// Option 定义可选的装配参数。
type Option func(*options)

// WithTransportFactory 替换模型 Transport 的创建方式。
func WithTransportFactory(factory TransportFactory) Option {
	return func(o *options) { o.transports = factory }
}

// WithoutTasks 跳过任务存储、队列与处理器，供只需要会话的命令行使用。
func WithoutTasks() Option {
	return func(o *options) { o.noTasks = true }
}

// InitLogging 根据 log 配置初始化全局日志。
func InitLogging(cfg config.LogConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled: cfg.AuditPath != "",
			Path:    cfg.AuditPath,
		},
	})
}

// New 按配置装配组件。返回错误时已创建的资源会被释放。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{transports: DefaultTransportFactory(cfg.LLM)}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	a := &App{Config: cfg, log: logger.Named("app")}
	if err := a.assemble(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) assemble(ctx context.Context, o options) error {
	cfg := a.Config
	var err error
	if a.Tools, err = buildTools(cfg.Tools); err != nil {
		return err
	}
	if a.Workflows, err = buildWorkflows(cfg.Workflows); err != nil {
		return err
	}
	if a.auth, err = auth.NewService(cfg.Auth.Keys); err != nil {
		return err
	}

	// 启动前创建一次 Transport，尽早暴露配置错误。
	if _, err = o.transports(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建模型客户端失败")
	}
	a.Sessions = session.NewManager(a.orchestratorFactory(ctx, o.transports), session.WithTTL(cfg.Agent.SessionTTL))

	if o.noTasks {
		return nil
	}
	if a.store, err = openStore(ctx, cfg.TaskStore); err != nil {
		return err
	}
	if a.queue, err = openQueue(ctx, cfg.TaskQueue); err != nil {
		return err
	}
	a.Tasks = task.NewService(a.store, a.queue, cfg.TaskStore.MaxRetries)
	a.processor = task.NewProcessor(a.Sessions, a.store, a.queue, a.queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithTaskTimeout(cfg.TaskStore.TaskTimeout),
		task.WithAlertDispatcher(buildAlerting(cfg.Alerting)),
		task.WithProcessorLogger(logger.Named("task")),
	)
	return nil
}

// orchestratorFactory 为每个会话创建编排器：独立的 Transport，共享的工具与工作流目录。
func (a *App) orchestratorFactory(ctx context.Context, transports TransportFactory) session.Factory {
	cfg := a.Config
	return func(id string) (*agent.Orchestrator, error) {
		transport, err := transports(ctx)
		if err != nil {
			return nil, err
		}
		return agent.New(transport, cfg.Agent.BasePrompt,
			agent.WithWorkflowRegistry(a.Workflows.Registry),
			agent.WithTools(a.Tools.List()...),
			agent.WithLogger(logger.Named("agent").With(slog.String("session_id", id))),
			agent.WithObserver(metrics.Observer{Provider: cfg.LLM.Provider}),
			agent.WithLLMTimeout(cfg.Agent.LLMTimeout),
			agent.WithToolTimeout(cfg.Agent.ToolTimeout),
			agent.WithMaxParallelTools(cfg.Agent.MaxParallelTools),
		), nil
	}
}

// Server 构造 HTTP API 服务。
func (a *App) Server() *api.Server {
	opts := []api.Option{
		api.WithTools(a.Tools),
		api.WithWorkflows(a.Workflows.Registry),
		api.WithAuth(a.auth.Middleware),
		api.WithTimeouts(a.Config.Server.ReadTimeout, a.Config.Server.WriteTimeout, a.Config.Server.ShutdownTimeout),
	}
	if a.Tasks != nil {
		opts = append(opts, api.WithTasks(a.Tasks))
	}
	return api.NewServer(a.Config.Server.Address, a.Sessions, opts...)
}

// Run 启动 API 服务、任务处理器、会话清理与工作流热加载，阻塞直到 ctx 取消或任一组件失败。
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Server().Start(gctx) })

	if addr := a.Config.Server.MetricsAddress; addr != "" {
		g.Go(func() error { return metrics.StartServer(gctx, addr) })
	}

	if a.processor != nil {
		if rq, ok := a.queue.(*task.RedisQueue); ok {
			if n, err := rq.RecoverInflight(gctx); err != nil {
				a.log.Warn("找回处理中的任务失败", slog.Any("error", err))
			} else if n > 0 {
				a.log.Info("已找回处理中的任务", slog.Int("count", n))
			}
		}
		g.Go(func() error { return a.processor.Start(gctx) })
	}

	if a.Config.Agent.SessionTTL > 0 {
		g.Go(func() error {
			a.Sessions.RunJanitor(gctx, janitorInterval)
			return nil
		})
	}

	if path := a.Config.Workflows.ChainFile; path != "" && a.Config.Workflows.Watch {
		g.Go(func() error {
			return workflow.Watch(gctx, path,
				func(steps []workflow.Step) {
					removed := a.Workflows.Replace(steps)
					a.log.Info("工作流定义已重新加载", slog.Int("count", len(steps)), slog.Any("removed", removed))
				},
				func(err error) {
					a.log.Warn("重新加载工作流定义失败", slog.Any("error", err))
				})
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close 释放任务队列与存储。
func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭任务队列失败: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭任务存储失败: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildTools(cfg config.ToolsConfig) (*tool.Registry, error) {
	registry := tool.NewRegistry()
	if cfg.CurrentTime {
		registry.Register(tool.CurrentTime(nil))
	}
	if cfg.Knowledge != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge, 0)
		if err != nil {
			return nil, err
		}
		registry.Register(knowledge.SearchTool(provider))
	}
	if cfg.Manifest != "" {
		tools, err := manifest.Load(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			registry.Register(t)
		}
	}
	return registry, nil
}

func buildWorkflows(cfg config.WorkflowsConfig) (*workflow.Catalog, error) {
	catalog := workflow.NewCatalog()
	if cfg.ChainFile == "" {
		return catalog, nil
	}
	steps, err := workflow.LoadChains(cfg.ChainFile)
	if err != nil {
		return nil, err
	}
	catalog.Replace(steps)
	return catalog, nil
}

func openStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case task.DriverMySQL, task.DriverSQLite:
		store, err := task.NewSQLStore(ctx, task.SQLConfig{Driver: cfg.Driver, DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func openQueue(ctx context.Context, cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Size), nil
	case "redis":
		queue, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildAlerting(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, nil, 0))
	}
	if cfg.SlackURL != "" {
		notifiers = append(notifiers, alerting.NewSlackNotifier(cfg.SlackURL, 0))
	}
	var opts []alerting.FanoutOption
	if cfg.MinSeverity != "" {
		opts = append(opts, alerting.WithMinimumSeverity(xerrors.Severity(cfg.MinSeverity)))
	}
	return alerting.NewFanout(notifiers, opts...)
}
