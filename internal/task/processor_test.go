package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(req Request, attempt int32) error
	attempts  sync.Map
}

func (f *fakeExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	counter, _ := f.attempts.LoadOrStore(req.ID, new(atomic.Int32))
	attempt := counter.(*atomic.Int32).Add(1)
	if f.fail != nil {
		if err := f.fail(req, attempt); err != nil {
			return nil, err
		}
	}
	f.processed.Add(1)
	return &Result{Output: "done: " + req.Input}, nil
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureDispatcher) stages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	stages := make([]string, 0, len(c.events))
	for _, e := range c.events {
		stages = append(stages, e.Metadata["stage"])
	}
	return stages
}

func startProcessor(t *testing.T, executor Executor, opts ...ProcessorOption) (*Service, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, opts...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return service, cancel
}

func waitFor(t *testing.T, service *Service, id string) *Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := service.WaitUntilCompleted(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	return task
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	executor := &fakeExecutor{latency: 5 * time.Millisecond}
	service, _ := startProcessor(t, executor, WithWorkerCount(8))

	total := 100
	for i := 0; i < total; i++ {
		_, err := service.Submit(context.Background(), Request{Kind: KindChat, Input: fmt.Sprintf("msg-%d", i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return int(executor.processed.Load()) >= total
	}, 5*time.Second, 20*time.Millisecond)

	stats, err := service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total, stats.Total)
}

func TestProcessorRecordsOutput(t *testing.T) {
	service, _ := startProcessor(t, &fakeExecutor{})

	submitted, err := service.Submit(context.Background(), Request{Kind: KindWorkflow, Workflow: "echo", Input: "hi", SessionID: "s-7"})
	require.NoError(t, err)

	task := waitFor(t, service, submitted.ID)
	assert.Equal(t, StatusSucceeded, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "done: hi", task.Result.Output)
	assert.Equal(t, "s-7", task.Result.SessionID)
	assert.Equal(t, 1, task.Attempts)
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	executor := &fakeExecutor{fail: func(_ Request, attempt int32) error {
		if attempt < 2 {
			return xerrors.New(xerrors.CodeTimeout, "slow model")
		}
		return nil
	}}
	service, _ := startProcessor(t, executor)

	submitted, err := service.Submit(context.Background(), Request{Kind: KindChat, Input: "retry me"})
	require.NoError(t, err)

	task := waitFor(t, service, submitted.ID)
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, 2, task.Attempts)
}

func TestProcessorFailsNonRetryableTask(t *testing.T) {
	alerts := &captureDispatcher{}
	executor := &fakeExecutor{fail: func(Request, int32) error {
		return xerrors.New(xerrors.CodeNotFound, `workflow "missing" not found`, xerrors.WithAlert(true))
	}}
	service, _ := startProcessor(t, executor, WithAlertDispatcher(alerts))

	submitted, err := service.Submit(context.Background(), Request{Kind: KindWorkflow, Workflow: "missing", Input: "x"})
	require.NoError(t, err)

	task := waitFor(t, service, submitted.ID)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, string(xerrors.CodeNotFound), task.ErrorCode)
	assert.Contains(t, task.LastError, "not found")
	assert.Equal(t, []string{"non_retryable"}, alerts.stages())
}

func TestProcessorExhaustsRetries(t *testing.T) {
	executor := &fakeExecutor{fail: func(Request, int32) error {
		return errors.New("always broken")
	}}
	service, _ := startProcessor(t, executor)

	submitted, err := service.Submit(context.Background(), Request{Kind: KindChat, Input: "x"})
	require.NoError(t, err)

	task := waitFor(t, service, submitted.ID)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, string(CodeTaskProcessing), task.ErrorCode)
}

func TestProcessorUsesRecoveryFallback(t *testing.T) {
	executor := &fakeExecutor{fail: func(Request, int32) error {
		return xerrors.New(xerrors.CodeInvalidArgument, "bad input")
	}}
	service, _ := startProcessor(t, executor, WithRecoveryHandler(StaticFallback("sorry, try again later")))

	submitted, err := service.Submit(context.Background(), Request{Kind: KindChat, Input: "x", SessionID: "s"})
	require.NoError(t, err)

	task := waitFor(t, service, submitted.ID)
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, "sorry, try again later", task.Result.Output)
}

func TestProcessorTaskTimeout(t *testing.T) {
	executor := &fakeExecutor{latency: time.Second}
	service, _ := startProcessor(t, executor, WithTaskTimeout(20*time.Millisecond))

	submitted, err := service.Submit(context.Background(), Request{Kind: KindChat, Input: "slow"})
	require.NoError(t, err)

	task := waitFor(t, service, submitted.ID)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, string(xerrors.CodeTimeout), task.ErrorCode)
	assert.Equal(t, 3, task.Attempts)
}
