// Package session keeps one orchestrator per conversation and exposes the
// operations the HTTP API, the CLI and the task processor need.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danielhardy/obru-ai/internal/agent"
	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/llm"
	"github.com/danielhardy/obru-ai/internal/observability/metrics"
	"github.com/danielhardy/obru-ai/internal/task"
	"github.com/danielhardy/obru-ai/pkg/logger"
)

// CodeSessionNotFound 表示会话不存在。
const CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"

// ErrNotFound 用于 errors.Is 判断。
var ErrNotFound = xerrors.New(CodeSessionNotFound, "session not found")

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:  "session not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Factory 为新会话构造编排器。
type Factory func(id string) (*agent.Orchestrator, error)

// Session 是一个会话及其编排器，mu 串行化同一会话上的所有操作。
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	orch     *agent.Orchestrator
	lastUsed atomic.Int64
}

// Info 是会话的只读摘要。
type Info struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Manager 管理进程内的全部会话。
type Manager struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option 定义可选配置。
type Option func(*Manager)

// WithTTL 设置空闲会话的过期时间，0 表示永不过期。
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建会话管理器。
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		now:      time.Now,
		log:      logger.Named("session"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Create 新建会话。id 为空时生成 uuid。
func (m *Manager) Create(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if m.factory == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置会话工厂")
	}

	m.mu.RLock()
	existing, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}

	// 工厂可能较慢，在锁外构造，插入前再检查一次。
	orch, err := m.factory(id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建编排器失败")
	}
	now := m.now()
	s := &Session{ID: id, CreatedAt: now, orch: orch}
	s.lastUsed.Store(now.UnixNano())

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[id] = s
	m.mu.Unlock()
	m.log.Info("会话已创建", slog.String("session_id", id))
	return s, nil
}

// Get 返回已存在的会话。
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, xerrors.New(CodeSessionNotFound, fmt.Sprintf("session %q not found", id),
			xerrors.WithMetadata("session_id", id))
	}
	return s, nil
}

// Delete 删除会话，返回是否存在。
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// List 返回会话摘要，按创建时间排序。
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Chat 在会话上完成一轮对话。sessionID 为空或不存在时创建会话。
func (m *Manager) Chat(ctx context.Context, sessionID, input string) (string, string, error) {
	s, err := m.Create(sessionID)
	if err != nil {
		return "", "", err
	}
	var reply string
	err = s.do(m.now, func(o *agent.Orchestrator) error {
		var procErr error
		reply, procErr = o.Process(ctx, input)
		return procErr
	})
	return s.ID, reply, err
}

// RunWorkflow 在会话上执行工作流。sessionID 为空时使用一次性会话，执行后立即删除。
func (m *Manager) RunWorkflow(ctx context.Context, sessionID, name, input string) (string, string, error) {
	ephemeral := strings.TrimSpace(sessionID) == ""
	s, err := m.Create(sessionID)
	if err != nil {
		return "", "", err
	}
	if ephemeral {
		defer m.Delete(s.ID)
	}
	var output string
	err = s.do(m.now, func(o *agent.Orchestrator) error {
		var runErr error
		output, runErr = o.ExecuteWorkflow(ctx, name, input)
		return runErr
	})
	metrics.ObserveWorkflowRun(name, err)
	if ephemeral {
		return "", output, err
	}
	return s.ID, output, err
}

// Messages 返回会话的对话记录。
func (m *Manager) Messages(id string) ([]llm.Message, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.orch.Messages(), nil
}

// Reset 清空会话的对话记录，保留 system 消息。
func (m *Manager) Reset(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.do(m.now, func(o *agent.Orchestrator) error {
		o.Reset()
		return nil
	})
}

// UpdatePrompt 替换会话的基础指令。
func (m *Manager) UpdatePrompt(id, prompt string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.do(m.now, func(o *agent.Orchestrator) error {
		o.UpdateBasePrompt(prompt)
		return nil
	})
}

// Execute 实现 task.Executor。
func (m *Manager) Execute(ctx context.Context, req task.Request) (*task.Result, error) {
	switch req.Kind {
	case task.KindChat:
		id, reply, err := m.Chat(ctx, req.SessionID, req.Input)
		if err != nil {
			return nil, err
		}
		return &task.Result{Output: reply, SessionID: id}, nil
	case task.KindWorkflow:
		id, output, err := m.RunWorkflow(ctx, req.SessionID, req.Workflow, req.Input)
		if err != nil {
			return nil, err
		}
		return &task.Result{Output: output, SessionID: id}, nil
	default:
		return nil, xerrors.Newf(task.CodeTaskValidation, "不支持的任务类型 %q", req.Kind)
	}
}

// Sweep 删除空闲超过 TTL 的会话，返回删除数量。
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Info("清理空闲会话", slog.Int("removed", removed))
	}
	return removed
}

// RunJanitor 周期性调用 Sweep，阻塞直到 ctx 结束。
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = m.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (s *Session) do(now func() time.Time, fn func(o *agent.Orchestrator) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed.Store(now().UnixNano())
	return fn(s.orch)
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) info() Info {
	return Info{ID: s.ID, Messages: len(s.orch.Messages()), CreatedAt: s.CreatedAt, LastUsed: s.idleSince()}
}
