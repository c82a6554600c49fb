package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/dexclient/pkg/logger"
	"github.com/betbot/dexclient/pkg/syncgroup"
)

// Handler 关闭回调。ctx 带超时，回调应在 ctx 结束前返回。
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	mu       sync.Mutex
	handlers []namedHandler
	done     bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: handler})
}

// Shutdown 并发执行所有回调并等待完成或超时，返回失败的回调名。
// 只执行一次，重复调用直接返回。
func (m *Manager) Shutdown(ctx context.Context) []string {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	handlers := m.handlers
	m.mu.Unlock()

	if len(handlers) == 0 {
		logger.Info("没有注册的关闭回调")
		return nil
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(handlers))

	var (
		failMu sync.Mutex
		failed []string
	)
	g := syncgroup.NewSyncGroup()
	for _, h := range handlers {
		g.Add(func() {
			if err := h.fn(ctx); err != nil {
				logger.WithField("handler", h.name).Warnf("关闭回调失败: %v", err)
				failMu.Lock()
				failed = append(failed, h.name)
				failMu.Unlock()
			}
		})
	}
	g.Run()

	if err := g.WaitContext(ctx); err != nil {
		logger.Warnf("关闭超时: %v", err)
		failMu.Lock()
		failed = append(failed, "timeout")
		failMu.Unlock()
	} else {
		logger.Info("所有关闭回调已完成")
	}

	failMu.Lock()
	defer failMu.Unlock()
	return append([]string(nil), failed...)
}
