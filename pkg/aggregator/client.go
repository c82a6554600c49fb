// Package aggregator 价格聚合服务客户端：美元价格、市场 ticker、K 线历史。
package aggregator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/dexclient/pkg/cache"
	"github.com/betbot/dexclient/pkg/ratelimit"
	sdkhttp "github.com/betbot/dexclient/pkg/sdk/http"
)

var log = logrus.WithField("component", "aggregator")

const (
	pricesTTL  = 60
	tickersTTL = 30
	historyTTL = 60
)

// Chart K 线周期
type Chart string

const (
	Chart4H  Chart = "4H"
	Chart1D  Chart = "1D"
	Chart7D  Chart = "7D"
	Chart30D Chart = "30D"
	Chart1Y  Chart = "1Y"
)

// Price 代币美元价格
type Price struct {
	Denom string          `json:"denom"`
	Price decimal.Decimal `json:"price"`
}

// Ticker 市场 24h 行情
type Ticker struct {
	MarketID    string          `json:"market_id"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	LastPrice   decimal.Decimal `json:"last_price"`
	Change      decimal.Decimal `json:"change"`
	BaseVolume  decimal.Decimal `json:"base_volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
}

// Candle 一个 K 线区间
type Candle struct {
	Time   int64           `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type Client struct {
	http    *sdkhttp.Client
	cache   *cache.Expiring
	limiter ratelimit.RateLimiter
}

func New(httpClient *sdkhttp.Client, c *cache.Expiring, limiter ratelimit.RateLimiter) *Client {
	return &Client{http: httpClient, cache: c, limiter: limiter}
}

func (c *Client) fetch(ctx context.Context, key string, ttl int, endpoint string, params map[string]any, out any) error {
	if c.cache != nil && c.cache.GetJSON(key, out) {
		return nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := c.http.GetJSON(ctx, endpoint, params, out); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.SetJSON(key, out, ttl)
	}
	return nil
}

// Prices 美元价格快照。失败返回空列表。
func (c *Client) Prices(ctx context.Context) ([]Price, error) {
	var out []Price
	if err := c.fetch(ctx, "agg:prices", pricesTTL, "/api/prices", nil, &out); err != nil {
		log.WithError(err).Warn("fetch prices failed")
		return []Price{}, err
	}
	return out, nil
}

// USDPrice 单个 denom 的美元价格，未知为 0
func (c *Client) USDPrice(ctx context.Context, denom string) (decimal.Decimal, error) {
	prices, err := c.Prices(ctx)
	for _, p := range prices {
		if p.Denom == denom {
			return p.Price, err
		}
	}
	return decimal.Zero, err
}

// Tickers 所有市场的行情。失败返回空列表。
func (c *Client) Tickers(ctx context.Context) ([]Ticker, error) {
	var out []Ticker
	if err := c.fetch(ctx, "agg:tickers", tickersTTL, "/api/dex/tickers", nil, &out); err != nil {
		log.WithError(err).Warn("fetch tickers failed")
		return []Ticker{}, err
	}
	return out, nil
}

// History 某个市场的 K 线。失败返回空列表。
func (c *Client) History(ctx context.Context, marketID string, chart Chart, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Candle
	key := fmt.Sprintf("agg:history:%s:%s:%d", marketID, chart, limit)
	params := map[string]any{"market_id": marketID, "chart": string(chart), "limit": limit}
	if err := c.fetch(ctx, key, historyTTL, "/api/dex/history", params, &out); err != nil {
		log.WithError(err).WithField("market", marketID).Warn("fetch history failed")
		return []Candle{}, err
	}
	return out, nil
}
