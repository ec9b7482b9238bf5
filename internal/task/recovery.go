package task

import "context"

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 在不可重试的失败后被调用。
	// 返回的 Result 将作为降级输出写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*Result, error)
}

// RecoveryFunc 允许使用普通函数作为 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*Result, error)

// Recover 实现 RecoveryHandler。
func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*Result, error) {
	return f(ctx, task, cause)
}

// StaticFallback 返回一个在失败时写入固定输出的补偿策略。
func StaticFallback(output string) RecoveryHandler {
	return RecoveryFunc(func(_ context.Context, task *Task, _ error) (*Result, error) {
		return &Result{Output: output, SessionID: task.SessionID}, nil
	})
}
