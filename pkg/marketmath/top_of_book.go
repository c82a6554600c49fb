package marketmath

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TopOfBook 一档盘口（展示价格）。
// 某一侧为零表示该侧没有挂单。
type TopOfBook struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
}

func (t TopOfBook) Validate() error {
	// 允许单边缺失，但不能全缺
	if !t.BestBid.IsPositive() && !t.BestAsk.IsPositive() {
		return fmt.Errorf("top-of-book is empty")
	}
	if t.BestBid.IsNegative() || t.BestAsk.IsNegative() {
		return fmt.Errorf("top-of-book has negative price: bid=%s ask=%s", t.BestBid, t.BestAsk)
	}
	return nil
}

// HasBid 是否有买单
func (t TopOfBook) HasBid() bool { return t.BestBid.IsPositive() }

// HasAsk 是否有卖单
func (t TopOfBook) HasAsk() bool { return t.BestAsk.IsPositive() }

// Spread 买卖价差；任一侧缺失时返回 false
func (t TopOfBook) Spread() (decimal.Decimal, bool) {
	if !t.HasBid() || !t.HasAsk() {
		return decimal.Zero, false
	}
	return t.BestAsk.Sub(t.BestBid), true
}

// MidPrice 中间价；只有一侧时返回该侧价格
func (t TopOfBook) MidPrice() (decimal.Decimal, bool) {
	switch {
	case t.HasBid() && t.HasAsk():
		return t.BestBid.Add(t.BestAsk).Div(two), true
	case t.HasBid():
		return t.BestBid, true
	case t.HasAsk():
		return t.BestAsk, true
	default:
		return decimal.Zero, false
	}
}
