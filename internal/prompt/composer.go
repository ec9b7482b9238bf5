// Package prompt composes the system message from a base instruction and
// accumulated tool descriptions.
package prompt

import "sync"

// ToolsHeader 是工具说明段落的标题。
const ToolsHeader = "\n\nYou have access to the following tools:\n"

// Composer 保存基础指令与工具说明，生成 system 消息内容。
type Composer struct {
	mu               sync.RWMutex
	base             string
	toolDescriptions string
}

// New 使用基础指令创建 Composer。
func New(base string) *Composer {
	return &Composer{base: base}
}

// AppendToolDescription 追加一行工具说明，不去重。
func (c *Composer) AppendToolDescription(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolDescriptions += "\n" + description
}

// SystemPrompt 返回基础指令；若存在工具说明则追加工具段落。
func (c *Composer) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.toolDescriptions == "" {
		return c.base
	}
	return c.base + ToolsHeader + c.toolDescriptions
}

// BasePrompt 返回当前基础指令。
func (c *Composer) BasePrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base
}

// SetBasePrompt 替换基础指令，已有的工具说明保持不变。
func (c *Composer) SetBasePrompt(base string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = base
}

// ClearToolDescriptions 清空工具说明。
func (c *Composer) ClearToolDescriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolDescriptions = ""
}
