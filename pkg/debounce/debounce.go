// Package debounce 按键防抖：同一个 key 在 delay 内被反复调度时只执行最后一次。
//
// 只会抑制尚未触发的调用；已经开始执行的 fn 不会被打断。
package debounce

import (
	"sync"
	"time"
)

// Handle 一次调度的句柄
type Handle struct {
	d     *Debouncer
	key   string
	timer *time.Timer
}

// Cancel 取消尚未触发的调度，返回是否真的取消了
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if h.d != nil {
		h.d.mu.Lock()
		defer h.d.mu.Unlock()
		if cur, ok := h.d.pending[h.key]; ok && cur == h {
			delete(h.d.pending, h.key)
		}
	}
	return h.timer.Stop()
}

// Debouncer 按 key 管理待触发的定时器
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*Handle
	stopped bool
}

func New() *Debouncer {
	return &Debouncer{pending: make(map[string]*Handle)}
}

// Schedule 取消 key 上已有的待触发调用，并在 delay 后执行 fn
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
		delete(d.pending, key)
	}

	h := &Handle{d: d, key: key}
	if d.stopped {
		// 已停止：返回一个不会触发的句柄
		h.timer = time.NewTimer(time.Hour)
		h.timer.Stop()
		return h
	}

	h.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if cur, ok := d.pending[key]; !ok || cur != h {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()

		fn()
	})
	d.pending[key] = h
	return h
}

// Cancel 取消 key 上的待触发调用
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	h, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	return h.timer.Stop()
}

// Pending 返回 key 是否有待触发的调用
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop 取消所有待触发调用，之后的 Schedule 不再生效
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, h := range d.pending {
		h.timer.Stop()
		delete(d.pending, k)
	}
}

// WaitTimer 固定时长的等待状态：d 之后调用 fn（例如结束“等待结果”的界面状态）。
// 返回的 stop 函数可提前取消。
func WaitTimer(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, fn)
	return t.Stop
}
