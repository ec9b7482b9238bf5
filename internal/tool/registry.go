package tool

import (
	"context"
	"sort"
	"sync"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
	"github.com/danielhardy/obru-ai/internal/llm"
)

// Registry 按名称保存工具，重复注册时后者覆盖前者。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建注册表并注册初始工具。
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register 插入或覆盖同名工具。
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Unregister 删除工具，返回是否存在。
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Get 按名称查找工具。
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List 返回全部工具，按名称排序。
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len 返回已注册工具数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute 执行指定工具。工具不存在时返回 TOOL_NOT_FOUND，
// 执行出错时返回包裹原因的 TOOL_EXECUTION_FAILED。
func (r *Registry) Execute(ctx context.Context, name string, args jsonvalue.Object) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", notFound(name)
	}
	if t.Execute == nil {
		return "", executionFailed(name, errNoExecutor)
	}
	if args == nil {
		args = jsonvalue.Object{}
	}
	result, err := t.Execute(ctx, args)
	if err != nil {
		return "", executionFailed(name, err)
	}
	return result, nil
}

// APISchema 返回供 Transport 使用的工具描述列表。
func (r *Registry) APISchema() []llm.APITool {
	tools := r.List()
	out := make([]llm.APITool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = ObjectSchema(nil)
		}
		out = append(out, llm.APITool{
			Type: "function",
			Function: llm.APIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
