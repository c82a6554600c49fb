package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveFailures: 2, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	cb.OnFailure()
	assert.NoError(t, cb.Allow())
	cb.OnSuccess()
	cb.OnFailure()
	assert.NoError(t, cb.Allow(), "success resets the streak")

	cb.OnFailure()
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)

	now = now.Add(59 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
	now = now.Add(time.Second)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, int64(0), cb.Failures())
}

func TestManualHaltIgnoresCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveFailures: 1, Cooldown: time.Second})
	cb.now = func() time.Time { return now }

	cb.Halt()
	now = now.Add(time.Hour)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
	cb.Resume()
	assert.NoError(t, cb.Allow())
}

func TestDisabledAndNil(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 10; i++ {
		cb.OnFailure()
	}
	assert.NoError(t, cb.Allow())

	var nilCB *CircuitBreaker
	nilCB.OnFailure()
	assert.NoError(t, nilCB.Allow())
}
