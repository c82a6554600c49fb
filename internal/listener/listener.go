// Package listener 按关注点订阅链上推送：地址余额、市场订单簿、抽奖结果。
//
// 每个监听器是调用方持有的独立实例（不是全局单例），订阅的 key（地址/市场）在构造时给定，
// 变更 key 会先停止旧订阅再回到 Idle，回调需要由持有者重新注册。
package listener

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/dexclient/pkg/transport"
)

var log = logrus.WithField("component", "listener")

var ErrEmptyKey = errors.New("listener: empty subscription key")

// State 监听器生命周期状态
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Subscriber 监听器依赖的推送通道（*transport.Transport 实现了它）
type Subscriber interface {
	Subscribe(query string, handler transport.Handler) (transport.SubscriptionID, error)
	Unsubscribe(id transport.SubscriptionID) error
	Connected() bool
	Close() error
}

// Option 监听器选项
type Option func(*base)

// WithOwnedTransport 表示该监听器独占 transport，Stop 时一并关闭
func WithOwnedTransport() Option {
	return func(b *base) { b.owned = true }
}

// base 三种监听器共用的状态机
type base struct {
	name  string
	tr    Subscriber
	owned bool

	mu    sync.Mutex
	state State
	ids   []transport.SubscriptionID
}

func (b *base) init(name string, tr Subscriber, opts []Option) {
	b.name = name
	b.tr = tr
	for _, opt := range opts {
		opt(b)
	}
}

// State 当前状态
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IDs 当前持有的订阅 id
func (b *base) IDs() []transport.SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.SubscriptionID, len(b.ids))
	copy(out, b.ids)
	return out
}

// subscription 一条查询和它的处理函数。
// 同一笔交易可能同时命中多条查询，所以处理函数只解码自己查询选中的事件类型，
// 否则同一个事件会按命中的订阅数重复回调。
type subscription struct {
	query   string
	handler transport.Handler
}

// startLocked 幂等：Starting/Active 时什么都不做。任何一个订阅失败都会回滚已发出的订阅。
func (b *base) startLocked(subs []subscription) error {
	if b.state == StateStarting || b.state == StateActive {
		return nil
	}
	b.state = StateStarting

	ids := make([]transport.SubscriptionID, 0, len(subs))
	for _, sub := range subs {
		id, err := b.tr.Subscribe(sub.query, sub.handler)
		if err != nil {
			for _, prev := range ids {
				_ = b.tr.Unsubscribe(prev)
			}
			b.state = StateIdle
			return fmt.Errorf("%s listener: subscribe %q: %w", b.name, sub.query, err)
		}
		ids = append(ids, id)
	}

	b.ids = ids
	b.state = StateActive
	log.Debugf("%s listener active, ids=%v", b.name, ids)
	return nil
}

// stopLocked 幂等。clearCallbacks 清空持有者注册的回调。
func (b *base) stopLocked(clearCallbacks func()) {
	if b.state == StateIdle || b.state == StateStopping {
		return
	}
	b.state = StateStopping
	clearCallbacks()

	for _, id := range b.ids {
		// transport 只在连接打开时才真正发送 unsubscribe
		if err := b.tr.Unsubscribe(id); err != nil && !errors.Is(err, transport.ErrUnknownSubscription) {
			log.WithError(err).Warnf("%s listener: unsubscribe id=%d failed", b.name, id)
		}
	}
	b.ids = nil

	if b.owned {
		if err := b.tr.Close(); err != nil {
			log.WithError(err).Warnf("%s listener: close transport failed", b.name)
		}
	}
	b.state = StateIdle
	log.Debugf("%s listener stopped", b.name)
}

// callbacks 按注册顺序调用的回调列表
type callbacks[T any] struct {
	mu  sync.Mutex
	fns []func(T)
}

func (c *callbacks[T]) add(fn func(T)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *callbacks[T]) emit(v T) {
	c.mu.Lock()
	fns := make([]func(T), len(c.fns))
	copy(fns, c.fns)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (c *callbacks[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = nil
}

func (c *callbacks[T]) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}
