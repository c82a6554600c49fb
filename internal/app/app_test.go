package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dexclient/internal/listener"
	"github.com/betbot/dexclient/internal/trading"
	"github.com/betbot/dexclient/pkg/config"
)

func TestNewMemoryBackend(t *testing.T) {
	cfg := config.Defaults()
	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Chain)
	assert.NotNil(t, a.Aggregator)
	assert.False(t, a.Transport.Connected(), "transport dials lazily")

	ml, store := a.MarketPipeline(cfg.DefaultMarketID)
	defer store.Close()
	assert.Equal(t, cfg.DefaultMarketID, ml.MarketID())
	assert.Equal(t, listener.StateIdle, ml.State())
	assert.Equal(t, cfg.DefaultMarketID, store.MarketID())

	bl, rl := a.AccountListeners(trading.LogNotifier{})
	assert.Nil(t, bl)
	assert.Nil(t, rl)
}

func TestNewBadgerBackendAndAccount(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cache.Backend = "badger"
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache")
	cfg.Address = "bze1me"
	cfg.AggregatorURL = ""
	cfg.Trading.CollapseSingleFill = true

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Aggregator)
	a.Cache.Set("k", "v", 60)
	v, ok := a.Cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	bl, rl := a.AccountListeners(trading.LogNotifier{})
	require.NotNil(t, bl)
	require.NotNil(t, rl)
	assert.Equal(t, "bze1me", bl.Address())

	sc := a.ServiceConfig()
	assert.Equal(t, "bze1me", sc.Creator)
	assert.True(t, sc.Options.CollapseSingleFill)

	cb := a.CircuitBreaker()
	for i := int64(0); i < cfg.Trading.MaxSubmitFailures; i++ {
		cb.OnFailure()
	}
	assert.Error(t, cb.Allow())
}
