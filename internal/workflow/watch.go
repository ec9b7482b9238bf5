package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听定义文件，文件写入或被替换后重新加载并回调 onChange。
// 加载失败时回调 onError 并保留旧定义。阻塞直到 ctx 取消。
func Watch(ctx context.Context, path string, onChange func([]Step), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("解析工作流定义路径失败: %w", err)
	}
	// 监听目录以便感知编辑器的原子替换。
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			steps, err := LoadChains(target)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onChange != nil {
				onChange(steps)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Catalog 是多个编排器共享的工作流目录，记录来自定义文件的工作流，
// 以便重新加载时移除已删除的定义。
type Catalog struct {
	*Registry

	mu     sync.Mutex
	loaded map[string]struct{}
}

// NewCatalog 创建目录并注册代码内置的工作流。
func NewCatalog(builtin ...Step) *Catalog {
	return &Catalog{Registry: NewRegistry(builtin...), loaded: map[string]struct{}{}}
}

// Replace 用新加载的定义替换上一次加载的定义，返回被移除的名称。
func (c *Catalog) Replace(steps []Step) (removed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		next[s.Name] = struct{}{}
		c.Register(s)
	}
	for name := range c.loaded {
		if _, ok := next[name]; !ok {
			c.Unregister(name)
			removed = append(removed, name)
		}
	}
	c.loaded = next
	return removed
}
