// Package workflow holds named multi-step procedures that drive an
// orchestrator through one or more model calls.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
)

// Runner 是工作流步骤可以调用的编排能力。
type Runner interface {
	Process(ctx context.Context, input string) (string, error)
}

// Resetter 由支持清空对话的 Runner 实现。
type Resetter interface {
	Reset()
}

// StepFunc 执行一个工作流。
type StepFunc func(ctx context.Context, runner Runner, input string) (string, error)

// Step 是一个可注册的工作流。
type Step struct {
	Name        string
	Description string
	Execute     StepFunc
}

const (
	CodeWorkflowNotFound xerrors.Code = "WORKFLOW_NOT_FOUND"
	CodeWorkflowFailed   xerrors.Code = "WORKFLOW_FAILED"
)

var (
	// ErrNotFound 表示工作流未注册。
	ErrNotFound = xerrors.New(CodeWorkflowNotFound, "workflow not found")
	// ErrFailed 表示工作流执行失败。
	ErrFailed = xerrors.New(CodeWorkflowFailed, "workflow failed")
)

func init() {
	xerrors.Register(CodeWorkflowNotFound, xerrors.Attributes{
		Message:  "workflow not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeWorkflowFailed, xerrors.Attributes{
		Message:   "workflow failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Registry 按名称保存工作流，重复注册时后者覆盖前者。
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry 创建注册表并注册初始工作流。
func NewRegistry(steps ...Step) *Registry {
	r := &Registry{steps: make(map[string]Step, len(steps))}
	for _, s := range steps {
		r.Register(s)
	}
	return r
}

// Register 插入或覆盖同名工作流。
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Name] = step
}

// Unregister 删除工作流，返回是否存在。
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.steps[name]; !ok {
		return false
	}
	delete(r.steps, name)
	return true
}

// Get 按名称查找工作流。
func (r *Registry) Get(name string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	return s, ok
}

// List 返回全部工作流，按名称排序。
func (r *Registry) List() []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Step, 0, len(r.steps))
	for _, s := range r.steps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run 执行指定工作流。未注册时返回 WORKFLOW_NOT_FOUND，
// 执行出错时返回带工作流名称的 WORKFLOW_FAILED。
func (r *Registry) Run(ctx context.Context, runner Runner, name, input string) (string, error) {
	step, ok := r.Get(name)
	if !ok {
		return "", xerrors.New(CodeWorkflowNotFound, fmt.Sprintf("workflow step %q not found", name),
			xerrors.WithMetadata("workflow", name))
	}
	if step.Execute == nil {
		return "", xerrors.New(CodeWorkflowFailed, fmt.Sprintf("workflow %q has no executor", name))
	}
	out, err := step.Execute(ctx, runner, input)
	if err != nil {
		return "", xerrors.Wrap(CodeWorkflowFailed, err, fmt.Sprintf("failed to execute workflow %q", name),
			xerrors.WithMetadata("workflow", name))
	}
	return out, nil
}
