package obru

// Message is one entry of a session transcript. Content is nil only on the
// assistant turn that carries tool calls.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns the message content, or "" when absent.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	} `json:"function"`
}

// ChatReply is the result of one conversational turn.
type ChatReply struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// WorkflowResult is the output of a synchronous workflow run. SessionID is
// empty for runs that used a throwaway session.
type WorkflowResult struct {
	SessionID string `json:"session_id,omitempty"`
	Output    string `json:"output"`
}

// CatalogEntry describes a registered tool or workflow.
type CatalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Task kinds accepted by SubmitTask.
const (
	KindChat     = "chat"
	KindWorkflow = "workflow"
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// TaskRequest is the payload for SubmitTask.
type TaskRequest struct {
	ID        string            `json:"id,omitempty"`
	Kind      string            `json:"kind"`
	Workflow  string            `json:"workflow,omitempty"`
	Input     string            `json:"input"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TaskResult is the output recorded for a finished task.
type TaskResult struct {
	Output    string `json:"output"`
	SessionID string `json:"session_id,omitempty"`
}

// Task is the server side view of a background task.
type Task struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Workflow   string            `json:"workflow,omitempty"`
	Input      string            `json:"input"`
	SessionID  string            `json:"session_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *TaskResult       `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Done reports whether the task reached a final state.
func (t *Task) Done() bool {
	if t == nil {
		return false
	}
	return t.Status == StatusSucceeded || (t.Status == StatusFailed && t.Attempts >= t.MaxRetries)
}

// TaskFilter narrows ListTasks. Zero values are omitted.
type TaskFilter struct {
	Limit     int
	Offset    int
	Statuses  []string
	Kinds     []string
	SessionID string
	Query     string
	Ascending bool
}
