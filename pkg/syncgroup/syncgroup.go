// Package syncgroup 包装 sync.WaitGroup：先登记函数，再一次性并发启动。
package syncgroup

import (
	"context"
	"sync"
)

// SyncGroup 自动管理 Add/Done。Run 之后登记的函数留到下一次 Run。
type SyncGroup struct {
	wg sync.WaitGroup

	mu  sync.Mutex
	fns []func()
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个函数，nil 忽略
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.fns = append(g.fns, fn)
	g.mu.Unlock()
}

// Run 并发启动所有已登记的函数并清空列表
func (g *SyncGroup) Run() {
	g.mu.Lock()
	fns := g.fns
	g.fns = nil
	g.mu.Unlock()

	g.wg.Add(len(fns))
	for _, fn := range fns {
		go func(fn func()) {
			defer g.wg.Done()
			fn()
		}(fn)
	}
}

// Wait 等待已启动的函数全部返回
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitContext 等待完成或 ctx 结束。超时返回 ctx.Err()，已启动的函数不会被中断。
func (g *SyncGroup) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
