// Package app 按配置组装客户端：缓存、限速、链上查询、聚合服务、推送连接。
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/dexclient/internal/listener"
	"github.com/betbot/dexclient/internal/risk"
	"github.com/betbot/dexclient/internal/trading"
	"github.com/betbot/dexclient/pkg/aggregator"
	"github.com/betbot/dexclient/pkg/cache"
	"github.com/betbot/dexclient/pkg/chain"
	"github.com/betbot/dexclient/pkg/config"
	"github.com/betbot/dexclient/pkg/events"
	"github.com/betbot/dexclient/pkg/matching"
	"github.com/betbot/dexclient/pkg/ratelimit"
	sdkhttp "github.com/betbot/dexclient/pkg/sdk/http"
	"github.com/betbot/dexclient/pkg/transport"
)

var log = logrus.WithField("component", "app")

type App struct {
	Config     *config.Config
	Cache      *cache.Expiring
	Limits     *ratelimit.Manager
	Chain      *chain.Client
	Aggregator *aggregator.Client
	Transport  *transport.Transport

	badger *cache.BadgerStore
}

// New 组装所有客户端。推送连接在第一次订阅时才会建立。
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	var store cache.Store
	switch cfg.Cache.Backend {
	case "badger":
		bs, err := cache.OpenBadger(cache.BadgerOptions{Path: cfg.Cache.Path})
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		a.badger = bs
		store = bs
	default:
		store = cache.NewMemoryStore()
	}
	a.Cache = cache.New(store)

	limits := ratelimit.Limits{PerSecond: cfg.RateLimit.PerSecond, Burst: cfg.RateLimit.Burst}
	a.Limits = ratelimit.NewManager(limits)
	a.Limits.Set(ratelimit.GroupChainQuery, limits)
	a.Limits.Set(ratelimit.GroupAggregator, ratelimit.Limits{PerSecond: limits.PerSecond / 2, Burst: max(1, limits.Burst/2)})

	a.Chain = chain.New(sdkhttp.NewClient(cfg.Chain.RESTURL),
		chain.WithCache(a.Cache),
		chain.WithRateLimiter(a.Limits.Limiter(ratelimit.GroupChainQuery)),
	)
	if cfg.AggregatorURL != "" {
		a.Aggregator = aggregator.New(sdkhttp.NewClient(cfg.AggregatorURL), a.Cache, a.Limits.Limiter(ratelimit.GroupAggregator))
	}

	tcfg := transport.DefaultConfig(cfg.Chain.WebsocketURL)
	tcfg.ProxyURL = cfg.Chain.ProxyURL
	a.Transport = transport.New(tcfg)

	log.WithFields(logrus.Fields{
		"rest":  cfg.Chain.RESTURL,
		"ws":    cfg.Chain.WebsocketURL,
		"cache": cfg.Cache.Backend,
	}).Info("clients ready")
	return a, nil
}

// MarketPipeline 市场监听器 + 由其事件驱动刷新的本地订单簿。调用方负责 Start/Stop。
func (a *App) MarketPipeline(marketID string) (*listener.MarketListener, *trading.BookStore) {
	ml := listener.NewMarketListener(a.Transport, marketID)
	store := trading.NewBookStore(a.Chain, marketID, a.Config.Trading.RefreshDebounce)
	store.Attach(ml)
	return ml, store
}

// AccountListeners 地址相关的余额和抽奖监听器，地址为空时返回 nil
func (a *App) AccountListeners(notifier trading.Notifier) (*listener.BalanceListener, *listener.RaffleListener) {
	if a.Config.Address == "" {
		return nil, nil
	}
	bl := listener.NewBalanceListener(a.Transport, a.Config.Address)
	bl.OnChange(func(c listener.BalanceChange) {
		log.WithFields(logrus.Fields{"address": c.Address, "denoms": c.Denoms()}).Info("balance changed")
	})

	rl := listener.NewRaffleListener(a.Transport, a.Config.Address)
	rl.OnWinner(func(ev events.RaffleWinnerEvent) {
		notifier.Notify(trading.LevelSuccess, "Raffle won", fmt.Sprintf("%s %s", ev.Amount, ev.Denom))
	})
	rl.OnLost(func(ev events.RaffleLostEvent) {
		notifier.Notify(trading.LevelInfo, "Raffle lost", ev.Denom)
	})
	return bl, rl
}

// ServiceConfig 交易服务配置
func (a *App) ServiceConfig() trading.Config {
	return trading.Config{
		Creator: a.Config.Address,
		Options: matching.Options{CollapseSingleFill: a.Config.Trading.CollapseSingleFill},
	}
}

// CircuitBreaker 按配置创建提交断路器
func (a *App) CircuitBreaker() *risk.CircuitBreaker {
	return risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveFailures: a.Config.Trading.MaxSubmitFailures,
		Cooldown:               a.Config.Trading.BreakerCooldown,
	})
}

// WarmUp 预先拉取市场定义和订单簿，失败只记录日志
func (a *App) WarmUp(ctx context.Context, store *trading.BookStore) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := a.Chain.TradingMarket(ctx, store.MarketID()); err != nil {
		log.WithError(err).WithField("market", store.MarketID()).Warn("market definition unavailable")
	}
	_ = store.Refresh(ctx)
}

func (a *App) Close() error {
	var firstErr error
	if a.Transport != nil {
		if err := a.Transport.Close(); err != nil {
			firstErr = err
		}
	}
	if a.badger != nil {
		if err := a.badger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
