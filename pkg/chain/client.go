// Package chain 链上 REST (LCD) 查询客户端。
//
// 读接口失败时返回安全的默认值（空订单簿、零余额）并记录日志，同时把错误返回给需要区分的调用方。
package chain

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/dexclient/pkg/cache"
	"github.com/betbot/dexclient/pkg/marketmath"
	"github.com/betbot/dexclient/pkg/matching"
	"github.com/betbot/dexclient/pkg/ratelimit"
	sdkhttp "github.com/betbot/dexclient/pkg/sdk/http"
)

var log = logrus.WithField("component", "chain")

// 缓存时长（秒）
const (
	marketTTL        = 300
	denomExponentTTL = 3600
	moduleAddressTTL = 86400
	historyTTL       = 15

	defaultPageLimit = 1000
)

// Client 链上查询客户端
type Client struct {
	http      *sdkhttp.Client
	cache     *cache.Expiring
	limiter   ratelimit.RateLimiter
	pageLimit int
}

// Option 客户端选项
type Option func(*Client)

// WithCache 在读接口前加一层过期缓存
func WithCache(c *cache.Expiring) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithRateLimiter 每次请求前等待令牌
func WithRateLimiter(l ratelimit.RateLimiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

// WithPageLimit 列表接口单页条数
func WithPageLimit(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.pageLimit = n
		}
	}
}

func New(httpClient *sdkhttp.Client, opts ...Option) *Client {
	c := &Client{http: httpClient, pageLimit: defaultPageLimit}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limit wait")
		}
	}
	return c.http.GetJSON(ctx, endpoint, params, out)
}

// cached 缓存命中直接返回；否则调用 fetch 并在成功后写缓存
func cached[T any](c *Client, key string, ttl int, fetch func() (T, error)) (T, error) {
	var out T
	if c.cache != nil && c.cache.GetJSON(key, &out) {
		return out, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	if c.cache != nil {
		c.cache.SetJSON(key, v, ttl)
	}
	return v, nil
}

// AggregatedOrders 某个市场一侧的聚合档位。失败返回空列表。
func (c *Client) AggregatedOrders(ctx context.Context, marketID string, side matching.Side) ([]matching.AggregatedOrder, error) {
	var resp aggregatedOrdersResponse
	err := c.get(ctx, "/bze/tradebin/v1/market_aggregated_orders", map[string]any{
		"market":           marketID,
		"order_type":       string(side),
		"pagination.limit": c.pageLimit,
	}, &resp)
	if err != nil {
		log.WithError(err).WithField("market", marketID).Warnf("fetch %s orders failed", side)
		return []matching.AggregatedOrder{}, err
	}

	out := make([]matching.AggregatedOrder, 0, len(resp.List))
	for _, o := range resp.List {
		t := o.OrderType
		if t == "" {
			t = side
		}
		out = append(out, matching.AggregatedOrder{Price: o.Price, Amount: o.Amount, OrderType: t})
	}
	return out, nil
}

// OrderBook 两侧订单簿。任意一侧失败则该侧为空，返回第一个错误。
func (c *Client) OrderBook(ctx context.Context, marketID string) (matching.Book, error) {
	book := matching.Book{MarketID: marketID}
	var firstErr error

	buys, err := c.AggregatedOrders(ctx, marketID, matching.SideBuy)
	if err != nil {
		firstErr = err
	}
	sells, err := c.AggregatedOrders(ctx, marketID, matching.SideSell)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	book.Buys = buys
	book.Sells = sells
	return book, firstErr
}

// Market 市场定义
func (c *Client) Market(ctx context.Context, marketID string) (MarketInfo, error) {
	base, quote, ok := SplitMarketID(marketID)
	if !ok {
		return MarketInfo{}, fmt.Errorf("invalid market id %q", marketID)
	}
	return cached(c, "chain:market:"+marketID, marketTTL, func() (MarketInfo, error) {
		var resp marketResponse
		if err := c.get(ctx, "/bze/tradebin/v1/market", map[string]any{"base": base, "quote": quote}, &resp); err != nil {
			log.WithError(err).WithField("market", marketID).Warn("fetch market failed")
			return MarketInfo{}, err
		}
		if resp.Market.Base == "" {
			return MarketInfo{}, fmt.Errorf("market %q not found", marketID)
		}
		return resp.Market, nil
	})
}

// Markets 全部市场。失败返回空列表。
func (c *Client) Markets(ctx context.Context) ([]MarketInfo, error) {
	return cached(c, "chain:markets", marketTTL, func() ([]MarketInfo, error) {
		var resp allMarketsResponse
		if err := c.get(ctx, "/bze/tradebin/v1/all_markets", map[string]any{"pagination.limit": c.pageLimit}, &resp); err != nil {
			log.WithError(err).Warn("fetch markets failed")
			return []MarketInfo{}, err
		}
		return resp.Market, nil
	})
}

// DenomExponent 代币的展示精度。失败时返回默认精度。
func (c *Client) DenomExponent(ctx context.Context, denom string) (int, error) {
	exp, err := cached(c, "chain:exponent:"+denom, denomExponentTTL, func() (int, error) {
		var resp denomMetadataResponse
		if err := c.get(ctx, "/cosmos/bank/v1beta1/denoms_metadata_by_query_string", map[string]any{"denom": denom}, &resp); err != nil {
			return 0, err
		}
		return resp.exponent(), nil
	})
	if err != nil {
		log.WithError(err).WithField("denom", denom).Debug("denom metadata unavailable, using default exponent")
		return marketmath.DefaultExponent, err
	}
	return marketmath.NormalizeExponent(exp), nil
}

// TradingMarket 市场定义加上两边代币精度，供撮合预览使用
func (c *Client) TradingMarket(ctx context.Context, marketID string) (matching.Market, error) {
	info, err := c.Market(ctx, marketID)
	if err != nil {
		return matching.Market{}, err
	}
	baseExp, _ := c.DenomExponent(ctx, info.Base)
	quoteExp, _ := c.DenomExponent(ctx, info.Quote)
	return matching.Market{
		ID:            info.ID(),
		Base:          info.Base,
		Quote:         info.Quote,
		BaseExponent:  baseExp,
		QuoteExponent: quoteExp,
	}, nil
}

// Balances 地址的全部余额。失败返回空列表。
func (c *Client) Balances(ctx context.Context, address string) ([]Balance, error) {
	var resp balancesResponse
	endpoint := "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address)
	if err := c.get(ctx, endpoint, map[string]any{"pagination.limit": c.pageLimit}, &resp); err != nil {
		log.WithError(err).WithField("address", address).Warn("fetch balances failed")
		return []Balance{}, err
	}
	return resp.Balances, nil
}

// Balance 单个 denom 的余额，不存在或失败时为 0
func (c *Client) Balance(ctx context.Context, address, denom string) (Balance, error) {
	all, err := c.Balances(ctx, address)
	for _, b := range all {
		if b.Denom == denom {
			return b, err
		}
	}
	return Balance{Denom: denom, Amount: "0"}, err
}

// MarketHistory 最近 limit 条成交（新的在前）。失败返回空列表。
func (c *Client) MarketHistory(ctx context.Context, marketID string, limit int) ([]HistoryOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	key := "chain:history:" + marketID + ":" + strconv.Itoa(limit)
	return cached(c, key, historyTTL, func() ([]HistoryOrder, error) {
		var resp historyResponse
		err := c.get(ctx, "/bze/tradebin/v1/market_history", map[string]any{
			"market":             marketID,
			"pagination.limit":   limit,
			"pagination.reverse": true,
		}, &resp)
		if err != nil {
			log.WithError(err).WithField("market", marketID).Warn("fetch market history failed")
			return []HistoryOrder{}, err
		}
		return resp.List, nil
	})
}

// ModuleAddress 模块账户地址
func (c *Client) ModuleAddress(ctx context.Context, name string) (string, error) {
	return cached(c, "chain:module:"+name, moduleAddressTTL, func() (string, error) {
		var resp moduleAccountResponse
		if err := c.get(ctx, "/cosmos/auth/v1beta1/module_accounts/"+url.PathEscape(name), nil, &resp); err != nil {
			log.WithError(err).WithField("module", name).Warn("fetch module address failed")
			return "", err
		}
		if resp.Account.BaseAccount.Address == "" {
			return "", fmt.Errorf("module %q has no address", name)
		}
		return resp.Account.BaseAccount.Address, nil
	})
}
