// Package matching 客户端撮合预览：根据当前可见的订单簿，决定一笔下单是直接挂单，
// 还是先吃掉若干对手单再把剩余部分挂单。
//
// 这里的结果只是预览，真正的撮合在链上完成；预览只用来决定提交哪些交易消息。
package matching

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide 解析方向字符串
func ParseSide(s string) (Side, error) {
	side := Side(s)
	if !side.Valid() {
		return "", fmt.Errorf("invalid side %q", s)
	}
	return side, nil
}

// AggregatedOrder 订单簿中的一个价格档位（链上原始 micro 字符串）
type AggregatedOrder struct {
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	OrderType Side   `json:"order_type"`
}

// Book 订单簿快照：卖单按价格升序，买单按价格降序（撮合意义上的最优价在前）
type Book struct {
	MarketID string            `json:"market_id"`
	Buys     []AggregatedOrder `json:"buys"`
	Sells    []AggregatedOrder `json:"sells"`
}

// Market 交易对及两边代币的精度
type Market struct {
	ID            string `json:"id"`
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	BaseExponent  int    `json:"base_exponent"`
	QuoteExponent int    `json:"quote_exponent"`
}

// ActionKind 需要提交的链上消息类型
type ActionKind string

const (
	// ActionCreate 新建挂单
	ActionCreate ActionKind = "create_order"
	// ActionFill 批量吃单
	ActionFill ActionKind = "fill_orders"
)

// Fill 吃掉某个对手档位的一部分或全部
type Fill struct {
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	MicroPrice  string          `json:"micro_price"`
	MicroAmount string          `json:"micro_amount"`
}

// Action 一条待提交的消息
type Action struct {
	Kind        ActionKind      `json:"kind"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	MicroPrice  string          `json:"micro_price"`
	MicroAmount string          `json:"micro_amount"`
	Fills       []Fill          `json:"fills,omitempty"`
}

// RejectReason 预检查失败原因
type RejectReason string

const (
	RejectInvalidSide           RejectReason = "invalid_side"
	RejectInvalidPrice          RejectReason = "invalid_price"
	RejectInvalidAmount         RejectReason = "invalid_amount"
	RejectPriceBelowMinimum     RejectReason = "price_below_minimum"
	RejectAmountTooSmall        RejectReason = "amount_too_small"
	RejectInsufficientLiquidity RejectReason = "insufficient_liquidity"
)

// Rejection 在任何网络调用之前就能发现的输入错误
type Rejection struct {
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Plan 撮合预览结果。每次输入或订单簿变化都重新计算，不持久化。
type Plan struct {
	MarketID   string          `json:"market_id"`
	Side       Side            `json:"side"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Amount     decimal.Decimal `json:"amount"`
	Fills      []Fill          `json:"fills"`
	Remainder  decimal.Decimal `json:"remainder"`
	Actions    []Action        `json:"actions"`
	Rejected   *Rejection      `json:"rejected,omitempty"`
}

// IsRejected 预检查是否失败
func (p Plan) IsRejected() bool {
	return p.Rejected != nil
}

// FilledAmount 吃单部分的总数量
func (p Plan) FilledAmount() decimal.Decimal {
	total := decimal.Zero
	for _, f := range p.Fills {
		total = total.Add(f.Amount)
	}
	return total
}

// AveragePrice 吃单部分的成交均价；没有吃单时返回 false
func (p Plan) AveragePrice() (decimal.Decimal, bool) {
	filled := p.FilledAmount()
	if !filled.IsPositive() {
		return decimal.Zero, false
	}
	cost := decimal.Zero
	for _, f := range p.Fills {
		cost = cost.Add(f.Price.Mul(f.Amount))
	}
	return cost.DivRound(filled, 18), true
}
