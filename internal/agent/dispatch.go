package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/llm"
)

// dispatch 并发执行同一回复中的全部工具调用，等待全部结束后按调用顺序
// 返回工具消息。单个工具失败只影响它自己的结果。
func (o *Orchestrator) dispatch(ctx context.Context, calls []llm.ParsedToolCall) []llm.Message {
	results := make([]string, len(calls))

	var g errgroup.Group
	if o.maxParallel > 0 {
		g.SetLimit(o.maxParallel)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = o.runTool(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	msgs := make([]llm.Message, len(calls))
	for i, call := range calls {
		msgs[i] = llm.ToolResultMessage(call.ID, call.Name, results[i])
	}
	return msgs
}

// runTool 执行单个工具，错误与 panic 都转换为工具消息内容。
func (o *Orchestrator) runTool(ctx context.Context, call llm.ParsedToolCall) (content string) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
			content = toolErrorContent(call.Name, err)
		}
		o.observer.ObserveToolCall(call.Name, time.Since(start), err)
		if err != nil {
			o.logger.Warn("工具执行失败", "tool", call.Name, "call_id", call.ID, "error", err)
		}
	}()

	if o.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.toolTimeout)
		defer cancel()
	}

	result, err := o.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		return toolErrorContent(call.Name, err)
	}
	return result
}

func toolErrorContent(name string, err error) string {
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Detail()
	}
	return fmt.Sprintf("Error executing tool %s: %s", name, message)
}
