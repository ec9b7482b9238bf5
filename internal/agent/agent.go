package agent

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/llm"
	"github.com/danielhardy/obru-ai/internal/prompt"
	"github.com/danielhardy/obru-ai/internal/tool"
	"github.com/danielhardy/obru-ai/internal/workflow"
)

// Logger 是编排器使用的日志接口，*slog.Logger 满足该接口。
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Hooks 是可选的同步观察回调，回调中的 panic 不会被编排器捕获。
type Hooks struct {
	// BeforePrompt 在每次调用模型之前收到对话快照。
	BeforePrompt func(messages []llm.Message)
	// AfterResponse 在每次模型调用成功后收到原始回复。
	AfterResponse func(reply *llm.ModelReply)
}

// Observer 接收模型与工具调用的耗时和结果，用于指标采集。
type Observer interface {
	ObserveModelCall(elapsed time.Duration, err error)
	ObserveToolCall(name string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveModelCall(time.Duration, error)        {}
func (nopObserver) ObserveToolCall(string, time.Duration, error) {}

// Orchestrator 持有一段对话，负责请求模型、派发工具并发起跟进请求。
// 同一实例不支持并发调用 Process，调用方需要自行串行化。
type Orchestrator struct {
	transport llm.Transport
	composer  *prompt.Composer
	tools     *tool.Registry
	workflows *workflow.Registry

	mu       sync.RWMutex
	messages []llm.Message

	logger      Logger
	hooks       Hooks
	observer    Observer
	llmTimeout  time.Duration
	toolTimeout time.Duration
	maxParallel int
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithTools 注册初始工具。
func WithTools(tools ...tool.Tool) Option {
	return func(o *Orchestrator) {
		for _, t := range tools {
			o.tools.Register(t)
		}
	}
}

// WithWorkflowSteps 注册初始工作流。
func WithWorkflowSteps(steps ...workflow.Step) Option {
	return func(o *Orchestrator) {
		for _, s := range steps {
			o.workflows.Register(s)
		}
	}
}

// WithWorkflowRegistry 使用外部的工作流注册表，多个编排器可共享同一份注册表。
// 需放在 WithWorkflowSteps 之前。
func WithWorkflowRegistry(registry *workflow.Registry) Option {
	return func(o *Orchestrator) {
		if registry != nil {
			o.workflows = registry
		}
	}
}

// WithLogger 设置日志实现。
func WithLogger(logger Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHooks 设置观察回调。
func WithHooks(hooks Hooks) Option {
	return func(o *Orchestrator) {
		o.hooks = hooks
	}
}

// WithObserver 设置指标观察者。
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithLLMTimeout 设置单次模型调用的超时时间，0 表示不限制。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout < 0 {
			timeout = 0
		}
		o.llmTimeout = timeout
	}
}

// WithToolTimeout 设置单个工具执行的超时时间，0 表示不限制。
func WithToolTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout < 0 {
			timeout = 0
		}
		o.toolTimeout = timeout
	}
}

// WithMaxParallelTools 限制同一轮并发执行的工具数量，0 表示不限制。
func WithMaxParallelTools(n int) Option {
	return func(o *Orchestrator) {
		if n < 0 {
			n = 0
		}
		o.maxParallel = n
	}
}

// New 创建编排器，写入 system 消息并向 Transport 公布工具列表。
func New(transport llm.Transport, basePrompt string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		composer:  prompt.New(basePrompt),
		tools:     tool.NewRegistry(),
		workflows: workflow.NewRegistry(),
		logger:    nopLogger{},
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.messages = []llm.Message{llm.SystemMessage(o.composer.SystemPrompt())}
	o.refreshTools()
	return o
}

// Process 追加用户输入并完成一轮对话，返回助手的最终回复。
// 模型请求了工具调用时，所有工具并发执行，结果写入对话后再发起一次跟进请求。
func (o *Orchestrator) Process(ctx context.Context, input string) (string, error) {
	if o.transport == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置模型 Transport")
	}

	o.appendMessages(llm.UserMessage(input))

	// 第一次请求模型。
	reply, err := o.generate(ctx)
	if err != nil {
		return "", err
	}

	if !reply.HasToolCalls() {
		text := reply.Text()
		o.appendMessages(llm.AssistantMessage(text))
		return text, nil
	}

	// 记录工具调用并派发执行。
	o.appendMessages(llm.ToolCallMessage(reply.RawToolCalls))
	o.logger.Debug("派发工具调用", "count", len(reply.ParsedToolCalls))
	o.appendMessages(o.dispatch(ctx, reply.ParsedToolCalls)...)

	// 带着工具结果发起跟进请求。
	followUp, err := o.generate(ctx)
	if err != nil {
		return "", err
	}
	if followUp.HasToolCalls() {
		names := make([]string, 0, len(followUp.ParsedToolCalls))
		for _, call := range followUp.ParsedToolCalls {
			names = append(names, call.Name)
		}
		o.logger.Warn("跟进回复中的工具调用不会被执行", "tools", names)
	}

	text := followUp.Text()
	o.appendMessages(llm.AssistantMessage(text))
	return text, nil
}

// generate 调用一次模型，处理超时、回调与指标。
func (o *Orchestrator) generate(ctx context.Context) (*llm.ModelReply, error) {
	snapshot := o.Messages()
	if o.hooks.BeforePrompt != nil {
		o.hooks.BeforePrompt(snapshot)
	}

	callCtx := ctx
	if o.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.llmTimeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := o.transport.Generate(callCtx, snapshot)
	o.observer.ObserveModelCall(time.Since(start), err)
	if err != nil {
		o.logger.Error("模型请求失败", "error", err)
		if o.llmTimeout > 0 && ctx.Err() == nil && stdErrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "模型请求超时")
		}
		if xerrors.HasCode(err, llm.CodeModelRequestFailed) {
			return nil, err
		}
		return nil, llm.RequestFailed(err, "transport")
	}
	if reply == nil {
		reply = &llm.ModelReply{}
	}
	if o.hooks.AfterResponse != nil {
		o.hooks.AfterResponse(reply)
	}
	return reply, nil
}

// RegisterTool 注册工具并刷新 Transport 的工具列表。
func (o *Orchestrator) RegisterTool(t tool.Tool) {
	o.tools.Register(t)
	o.refreshTools()
}

// UnregisterTool 删除工具并刷新 Transport 的工具列表。
func (o *Orchestrator) UnregisterTool(name string) bool {
	removed := o.tools.Unregister(name)
	if removed {
		o.refreshTools()
	}
	return removed
}

// Tools 返回已注册工具。
func (o *Orchestrator) Tools() []tool.Tool {
	return o.tools.List()
}

// RegisterWorkflowStep 注册工作流。
func (o *Orchestrator) RegisterWorkflowStep(step workflow.Step) {
	o.workflows.Register(step)
}

// UnregisterWorkflowStep 删除工作流。
func (o *Orchestrator) UnregisterWorkflowStep(name string) bool {
	return o.workflows.Unregister(name)
}

// Workflows 返回已注册工作流。
func (o *Orchestrator) Workflows() []workflow.Step {
	return o.workflows.List()
}

// ExecuteWorkflow 执行指定工作流，工作流步骤通过编排器自身继续对话。
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, name, input string) (string, error) {
	return o.workflows.Run(ctx, o, name, input)
}

// Messages 返回对话记录的深拷贝。
func (o *Orchestrator) Messages() []llm.Message {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return llm.CloneMessages(o.messages)
}

// Reset 将对话截断到 system 消息。
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) > 1 {
		o.messages = []llm.Message{o.messages[0]}
	}
}

// UpdateBasePrompt 更新基础指令，并在首条消息为 system 时重写其内容。
func (o *Orchestrator) UpdateBasePrompt(text string) {
	o.composer.SetBasePrompt(text)
	o.syncSystemMessage()
}

// AppendToolDescription 追加工具说明，并同步 system 消息。
func (o *Orchestrator) AppendToolDescription(text string) {
	o.composer.AppendToolDescription(text)
	o.syncSystemMessage()
}

// SystemPrompt 返回当前组合后的 system 提示。
func (o *Orchestrator) SystemPrompt() string {
	return o.composer.SystemPrompt()
}

func (o *Orchestrator) syncSystemMessage() {
	content := o.composer.SystemPrompt()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) > 0 && o.messages[0].Role == llm.RoleSystem {
		o.messages[0].Content = llm.Text(content)
	}
}

func (o *Orchestrator) appendMessages(msgs ...llm.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msgs...)
}

func (o *Orchestrator) refreshTools() {
	if o.transport == nil {
		return
	}
	o.transport.SetTools(o.tools.APISchema())
}
