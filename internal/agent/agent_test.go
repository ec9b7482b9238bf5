package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
	"github.com/danielhardy/obru-ai/internal/llm"
	"github.com/danielhardy/obru-ai/internal/tool"
	"github.com/danielhardy/obru-ai/internal/workflow"
)

// stubTransport 按顺序返回预设回复，并记录每次请求看到的对话。
type stubTransport struct {
	mu      sync.Mutex
	replies []*llm.ModelReply
	err     error
	wait    time.Duration
	calls   [][]llm.Message
	tools   []llm.APITool
}

func (s *stubTransport) SetTools(tools []llm.APITool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
}

func (s *stubTransport) Generate(ctx context.Context, messages []llm.Message) (*llm.ModelReply, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &llm.ModelReply{Content: llm.Text("")}, nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func textReply(s string) *llm.ModelReply {
	return &llm.ModelReply{Content: llm.Text(s)}
}

func toolReply(calls ...llm.ParsedToolCall) *llm.ModelReply {
	reply := &llm.ModelReply{}
	for _, c := range calls {
		reply.RawToolCalls = append(reply.RawToolCalls, llm.ToolCallRequest{
			ID:       c.ID,
			Type:     "function",
			Function: llm.FunctionCall{Name: c.Name, Arguments: encodeArguments(c.Arguments)},
		})
		reply.ParsedToolCalls = append(reply.ParsedToolCalls, c)
	}
	return reply
}

// encodeArguments 按 OpenAI 的字符串形式编码工具参数。
func encodeArguments(args jsonvalue.Object) json.RawMessage {
	inner, err := json.Marshal(args)
	if err != nil {
		inner = []byte("{}")
	}
	outer, _ := json.Marshal(string(inner))
	return outer
}

func reverseTool() tool.Tool {
	return tool.Tool{
		Name:        "reverse",
		Description: "reverses text",
		Parameters:  tool.ObjectSchema(jsonvalue.Object{"text": tool.StringProperty("text")}, "text"),
		Execute: func(_ context.Context, args jsonvalue.Object) (string, error) {
			text, _ := args.String("text")
			runes := []rune(text)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return string(runes), nil
		},
	}
}

func TestProcessPingPong(t *testing.T) {
	transport := &stubTransport{replies: []*llm.ModelReply{textReply("pong")}}
	o := New(transport, "You are a test agent.")

	got, err := o.Process(context.Background(), "ping")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "pong" {
		t.Fatalf("unexpected reply %q", got)
	}

	msgs := o.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []struct {
		role llm.Role
		text string
	}{
		{llm.RoleSystem, "You are a test agent."},
		{llm.RoleUser, "ping"},
		{llm.RoleAssistant, "pong"},
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Text() != w.text {
			t.Fatalf("message %d = %+v, want %v %q", i, msgs[i], w.role, w.text)
		}
	}
}

func TestProcessDispatchesToolAndFollowsUp(t *testing.T) {
	transport := &stubTransport{replies: []*llm.ModelReply{
		toolReply(llm.ParsedToolCall{ID: "call_1", Name: "reverse", Arguments: jsonvalue.Object{"text": jsonvalue.String("abc")}}),
		textReply("done"),
	}}
	o := New(transport, "sys", WithTools(reverseTool()))

	got, err := o.Process(context.Background(), "reverse this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "done" {
		t.Fatalf("unexpected reply %q", got)
	}

	msgs := o.Messages()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(msgs), msgs)
	}
	call := msgs[2]
	if call.Role != llm.RoleAssistant || call.Content != nil || len(call.ToolCalls) != 1 {
		t.Fatalf("unexpected tool-call turn: %+v", call)
	}
	result := msgs[3]
	if result.Role != llm.RoleTool || result.Text() != "cba" || result.ToolCallID != "call_1" {
		t.Fatalf("unexpected tool result: %+v", result)
	}
	if msgs[4].Text() != "done" {
		t.Fatalf("unexpected final message: %+v", msgs[4])
	}

	if len(transport.calls) != 2 {
		t.Fatalf("expected exactly two transport calls, got %d", len(transport.calls))
	}
	if len(transport.calls[1]) != 4 {
		t.Fatalf("follow-up should see tool results, got %d messages", len(transport.calls[1]))
	}
}

func TestProcessAppendsOneToolMessagePerCall(t *testing.T) {
	const k = 5
	calls := make([]llm.ParsedToolCall, k)
	for i := range calls {
		calls[i] = llm.ParsedToolCall{
			ID:        "call_" + string(rune('a'+i)),
			Name:      "reverse",
			Arguments: jsonvalue.Object{"text": jsonvalue.String(strings.Repeat("x", i) + "y")},
		}
	}
	transport := &stubTransport{replies: []*llm.ModelReply{toolReply(calls...), textReply("ok")}}
	o := New(transport, "sys", WithTools(reverseTool()), WithMaxParallelTools(2))

	if _, err := o.Process(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	followUp := transport.calls[1]
	toolMsgs := followUp[len(followUp)-k:]
	for i, msg := range toolMsgs {
		if msg.Role != llm.RoleTool {
			t.Fatalf("message %d is %s, want tool", i, msg.Role)
		}
		if msg.ToolCallID != calls[i].ID {
			t.Fatalf("message %d carries id %q, want %q", i, msg.ToolCallID, calls[i].ID)
		}
	}
}

func TestProcessContainsToolFailures(t *testing.T) {
	broken := tool.Tool{
		Name: "broken",
		Execute: func(context.Context, jsonvalue.Object) (string, error) {
			return "", errors.New("disk full")
		},
	}
	panicky := tool.Tool{
		Name: "panicky",
		Execute: func(context.Context, jsonvalue.Object) (string, error) {
			panic("kaboom")
		},
	}
	transport := &stubTransport{replies: []*llm.ModelReply{
		toolReply(
			llm.ParsedToolCall{ID: "1", Name: "broken", Arguments: jsonvalue.Object{}},
			llm.ParsedToolCall{ID: "2", Name: "missing", Arguments: jsonvalue.Object{}},
			llm.ParsedToolCall{ID: "3", Name: "panicky", Arguments: jsonvalue.Object{}},
		),
		textReply("recovered"),
	}}
	o := New(transport, "sys", WithTools(broken, panicky))

	got, err := o.Process(context.Background(), "try")
	if err != nil {
		t.Fatalf("tool failures must not fail the turn: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("unexpected reply %q", got)
	}

	msgs := o.Messages()
	checks := map[string]string{
		"1": "Error executing tool broken:",
		"2": "Error executing tool missing:",
		"3": "Error executing tool panicky:",
	}
	for _, msg := range msgs {
		if msg.Role != llm.RoleTool {
			continue
		}
		prefix := checks[msg.ToolCallID]
		if !strings.Contains(msg.Text(), prefix) {
			t.Fatalf("tool message %q lacks %q", msg.Text(), prefix)
		}
		delete(checks, msg.ToolCallID)
	}
	if len(checks) != 0 {
		t.Fatalf("missing tool messages for %v", checks)
	}
}

func TestProcessRunsToolsConcurrently(t *testing.T) {
	var running, peak int32
	slow := tool.Tool{
		Name: "slow",
		Execute: func(context.Context, jsonvalue.Object) (string, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return "", nil
		},
	}
	transport := &stubTransport{replies: []*llm.ModelReply{
		toolReply(
			llm.ParsedToolCall{ID: "1", Name: "slow"},
			llm.ParsedToolCall{ID: "2", Name: "slow"},
			llm.ParsedToolCall{ID: "3", Name: "slow"},
		),
		textReply("ok"),
	}}
	o := New(transport, "sys", WithTools(slow))

	if _, err := o.Process(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Fatalf("expected concurrent execution, peak=%d", peak)
	}
	for _, msg := range o.Messages() {
		if msg.Role == llm.RoleTool && msg.Content == nil {
			t.Fatalf("empty tool result must be an empty string, not null")
		}
	}
}

func TestProcessNormalizesAbsentContent(t *testing.T) {
	transport := &stubTransport{replies: []*llm.ModelReply{{Content: nil}}}
	o := New(transport, "sys")

	got, err := o.Process(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty reply, got %q", got)
	}
	for i, msg := range o.Messages() {
		if msg.Content == nil {
			t.Fatalf("message %d has null content", i)
		}
	}
}

func TestProcessDropsSecondRoundToolCalls(t *testing.T) {
	second := toolReply(llm.ParsedToolCall{ID: "again", Name: "reverse", Arguments: jsonvalue.Object{"text": jsonvalue.String("x")}})
	second.Content = llm.Text("partial")
	transport := &stubTransport{replies: []*llm.ModelReply{
		toolReply(llm.ParsedToolCall{ID: "first", Name: "reverse", Arguments: jsonvalue.Object{"text": jsonvalue.String("ab")}}),
		second,
	}}
	o := New(transport, "sys", WithTools(reverseTool()))

	got, err := o.Process(context.Background(), "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "partial" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(transport.calls) != 2 {
		t.Fatalf("expected no third model call, got %d", len(transport.calls))
	}
	last := o.Messages()[len(o.Messages())-1]
	if len(last.ToolCalls) != 0 {
		t.Fatalf("follow-up message must not carry tool calls")
	}
}

func TestProcessTranscriptGrowsByTwo(t *testing.T) {
	transport := &stubTransport{}
	o := New(transport, "sys")

	for n := 1; n <= 4; n++ {
		if _, err := o.Process(context.Background(), "hi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(o.Messages()); got != 1+2*n {
			t.Fatalf("after %d calls transcript has %d messages", n, got)
		}
	}
}

func TestProcessTransportFailure(t *testing.T) {
	cause := errors.New("connection refused")
	transport := &stubTransport{err: cause}
	o := New(transport, "sys")

	_, err := o.Process(context.Background(), "hi")
	if !errors.Is(err, llm.ErrModelRequestFailed) {
		t.Fatalf("expected MODEL_REQUEST_FAILED, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped")
	}
	if len(o.Messages()) != 2 {
		t.Fatalf("user message should stay in the transcript")
	}
}

func TestProcessLLMTimeout(t *testing.T) {
	transport := &stubTransport{wait: 200 * time.Millisecond}
	o := New(transport, "sys", WithLLMTimeout(10*time.Millisecond))

	_, err := o.Process(context.Background(), "hi")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}

func TestHooksSeeEveryModelCall(t *testing.T) {
	var before []int
	var after int
	transport := &stubTransport{replies: []*llm.ModelReply{
		toolReply(llm.ParsedToolCall{ID: "1", Name: "reverse", Arguments: jsonvalue.Object{"text": jsonvalue.String("ab")}}),
		textReply("ok"),
	}}
	o := New(transport, "sys", WithTools(reverseTool()), WithHooks(Hooks{
		BeforePrompt:  func(msgs []llm.Message) { before = append(before, len(msgs)) },
		AfterResponse: func(*llm.ModelReply) { after++ },
	}))

	if _, err := o.Process(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(before) != 2 || before[0] != 2 || before[1] != 4 {
		t.Fatalf("unexpected BeforePrompt calls: %v", before)
	}
	if after != 2 {
		t.Fatalf("expected AfterResponse twice, got %d", after)
	}
}

func TestResetKeepsSystemMessage(t *testing.T) {
	transport := &stubTransport{}
	o := New(transport, "base")
	o.UpdateBasePrompt("updated")
	for i := 0; i < 3; i++ {
		_, _ = o.Process(context.Background(), "x")
	}

	o.Reset()
	msgs := o.Messages()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleSystem || msgs[0].Text() != "updated" {
		t.Fatalf("unexpected transcript after reset: %+v", msgs)
	}
}

func TestUpdateBasePromptKeepsToolDescriptions(t *testing.T) {
	o := New(&stubTransport{}, "base")
	o.AppendToolDescription("reverse: reverses text")
	o.UpdateBasePrompt("new base")

	want := "new base\n\nYou have access to the following tools:\n\nreverse: reverses text"
	if got := o.Messages()[0].Text(); got != want {
		t.Fatalf("system message = %q, want %q", got, want)
	}
	if o.SystemPrompt() != want {
		t.Fatalf("system prompt out of sync")
	}
}

func TestRegisterToolRefreshesTransportSchema(t *testing.T) {
	transport := &stubTransport{}
	o := New(transport, "sys")
	if len(transport.tools) != 0 {
		t.Fatalf("expected no tools initially")
	}

	o.RegisterTool(reverseTool())
	if len(transport.tools) != 1 || transport.tools[0].Function.Name != "reverse" {
		t.Fatalf("unexpected advertised tools: %+v", transport.tools)
	}
	if !o.UnregisterTool("reverse") || len(transport.tools) != 0 {
		t.Fatalf("unregister should clear advertised tools")
	}
}

func TestExecuteWorkflow(t *testing.T) {
	transport := &stubTransport{replies: []*llm.ModelReply{textReply("analysis"), textReply("answer")}}
	o := New(transport, "sys")
	o.RegisterWorkflowStep(workflow.Step{
		Name: "twoStep",
		Execute: func(ctx context.Context, r workflow.Runner, input string) (string, error) {
			first, err := r.Process(ctx, "Analyze: "+input)
			if err != nil {
				return "", err
			}
			return r.Process(ctx, "Respond to: "+first)
		},
	})

	got, err := o.ExecuteWorkflow(context.Background(), "twoStep", "query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "answer" {
		t.Fatalf("unexpected output %q", got)
	}
	if len(o.Messages()) != 5 {
		t.Fatalf("workflow should drive two turns")
	}
}

func TestExecuteWorkflowMissing(t *testing.T) {
	o := New(&stubTransport{}, "sys")
	_, err := o.ExecuteWorkflow(context.Background(), "missing", "x")
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected WORKFLOW_NOT_FOUND, got %v", err)
	}
}

func TestSharedWorkflowRegistry(t *testing.T) {
	shared := workflow.NewRegistry()
	a := New(&stubTransport{replies: []*llm.ModelReply{textReply("from a")}}, "sys", WithWorkflowRegistry(shared))
	b := New(&stubTransport{replies: []*llm.ModelReply{textReply("from b")}}, "sys", WithWorkflowRegistry(shared))

	shared.Register(workflow.Step{
		Name: "ask",
		Execute: func(ctx context.Context, r workflow.Runner, input string) (string, error) {
			return r.Process(ctx, input)
		},
	})

	for name, o := range map[string]*Orchestrator{"from a": a, "from b": b} {
		got, err := o.ExecuteWorkflow(context.Background(), "ask", "hi")
		if err != nil || got != name {
			t.Fatalf("expected %q, got %q (%v)", name, got, err)
		}
	}
	if len(a.Workflows()) != 1 || len(b.Workflows()) != 1 {
		t.Fatalf("registry should be shared")
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	o := New(&stubTransport{}, "sys")
	msgs := o.Messages()
	*msgs[0].Content = "tampered"
	if o.Messages()[0].Text() != "sys" {
		t.Fatalf("snapshot must not alias the transcript")
	}
}

func TestToolCallTurnEncodesNullContent(t *testing.T) {
	transport := &stubTransport{replies: []*llm.ModelReply{
		toolReply(llm.ParsedToolCall{ID: "1", Name: "reverse", Arguments: jsonvalue.Object{"text": jsonvalue.String("ab")}}),
		textReply("ok"),
	}}
	o := New(transport, "sys", WithTools(reverseTool()))
	if _, err := o.Process(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded, err := json.Marshal(o.Messages()[2])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"content":null`) {
		t.Fatalf("expected null content, got %s", encoded)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	model int
	tools map[string]int
}

func (r *recordingObserver) ObserveModelCall(time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model++
}

func (r *recordingObserver) ObserveToolCall(name string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = map[string]int{}
	}
	r.tools[name]++
}

func TestObserverReceivesCalls(t *testing.T) {
	obs := &recordingObserver{}
	transport := &stubTransport{replies: []*llm.ModelReply{
		toolReply(llm.ParsedToolCall{ID: "1", Name: "reverse", Arguments: jsonvalue.Object{"text": jsonvalue.String("ab")}}),
		textReply("ok"),
	}}
	o := New(transport, "sys", WithTools(reverseTool()), WithObserver(obs))
	if _, err := o.Process(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.model != 2 || obs.tools["reverse"] != 1 {
		t.Fatalf("unexpected observations: model=%d tools=%v", obs.model, obs.tools)
	}
}
