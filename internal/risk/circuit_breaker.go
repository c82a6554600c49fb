package risk

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 断路器已打开，暂停提交订单
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：MaxConsecutiveFailures <= 0 表示关闭；Cooldown <= 0 表示只能手动恢复。
type CircuitBreakerConfig struct {
	// MaxConsecutiveFailures 连续广播失败上限
	MaxConsecutiveFailures int64
	// Cooldown 自动熔断后多久自动恢复
	Cooldown time.Duration
}

// CircuitBreaker 连续提交失败时暂停提交，避免对同一个错误反复签名广播。
// 快路径只读原子变量。
type CircuitBreaker struct {
	halted      atomic.Bool
	manual      atomic.Bool
	failures    atomic.Int64
	openedAtNs  atomic.Int64
	maxFailures atomic.Int64
	cooldownNs  atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxFailures.Store(cfg.MaxConsecutiveFailures)
	cb.cooldownNs.Store(int64(cfg.Cooldown))
}

// Halt 手动熔断，只能通过 Resume 恢复
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.manual.Store(true)
	cb.open()
}

// Resume 恢复并清空连续失败计数
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.manual.Store(false)
	cb.halted.Store(false)
	cb.failures.Store(0)
}

// Allow 是否允许提交。自动熔断在冷却期过后自动恢复。
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		cooldown := time.Duration(cb.cooldownNs.Load())
		if cb.manual.Load() || cooldown <= 0 {
			return ErrCircuitBreakerOpen
		}
		openedAt := time.Unix(0, cb.openedAtNs.Load())
		if cb.now().Sub(openedAt) < cooldown {
			return ErrCircuitBreakerOpen
		}
		cb.Resume()
	}
	return nil
}

// OnSuccess 一次提交成功，清空连续失败计数
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.failures.Store(0)
}

// OnFailure 一次提交失败；达到上限时熔断
func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	n := cb.failures.Add(1)
	if max := cb.maxFailures.Load(); max > 0 && n >= max {
		cb.open()
	}
}

// Failures 当前连续失败次数
func (cb *CircuitBreaker) Failures() int64 {
	if cb == nil {
		return 0
	}
	return cb.failures.Load()
}

// open 先写时间再置位，Allow 看到 halted 时 openedAt 一定有效
func (cb *CircuitBreaker) open() {
	if cb.halted.Load() {
		return
	}
	cb.openedAtNs.Store(cb.now().UnixNano())
	cb.halted.Store(true)
}
