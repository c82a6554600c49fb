package matching

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/betbot/dexclient/pkg/marketmath"
)

// level 换算成展示单位后的档位，保留原始 micro 价格用于拼消息
type level struct {
	price      decimal.Decimal
	amount     decimal.Decimal
	microPrice string
}

// levels 把某一侧的原始档位换算成展示单位，并按撮合优先级排序。
// 解析失败或数量为零的档位直接跳过。
func (m Market) levels(orders []AggregatedOrder, side Side) []level {
	out := make([]level, 0, len(orders))
	for _, o := range orders {
		mp, err := marketmath.ParseMicro(o.Price)
		if err != nil || !mp.IsPositive() {
			continue
		}
		ma, err := marketmath.ParseMicro(o.Amount)
		if err != nil || !ma.IsPositive() {
			continue
		}
		out = append(out, level{
			price:      marketmath.ToDisplayPrice(mp, m.QuoteExponent, m.BaseExponent),
			amount:     marketmath.ToDisplayAmount(ma, m.BaseExponent),
			microPrice: o.Price,
		})
	}

	less := func(i, j int) bool {
		if side == SideSell {
			return out[i].price.LessThan(out[j].price)
		}
		return out[i].price.GreaterThan(out[j].price)
	}
	if !sort.SliceIsSorted(out, less) {
		sort.SliceStable(out, less)
	}
	return out
}

// Side 返回某一侧的原始档位
func (b Book) Side(side Side) []AggregatedOrder {
	if side == SideBuy {
		return b.Buys
	}
	return b.Sells
}

// Top 一档盘口（展示价格）
func (b Book) Top(m Market) marketmath.TopOfBook {
	var tob marketmath.TopOfBook
	if bids := m.levels(b.Buys, SideBuy); len(bids) > 0 {
		tob.BestBid = bids[0].price
	}
	if asks := m.levels(b.Sells, SideSell); len(asks) > 0 {
		tob.BestAsk = asks[0].price
	}
	return tob
}

// Depth 某一侧按优先级排好的展示档位（价格、数量），最多 limit 档；limit<=0 表示全部
func (b Book) Depth(m Market, side Side, limit int) [][2]decimal.Decimal {
	lv := m.levels(b.Side(side), side)
	if limit > 0 && len(lv) > limit {
		lv = lv[:limit]
	}
	out := make([][2]decimal.Decimal, 0, len(lv))
	for _, l := range lv {
		out = append(out, [2]decimal.Decimal{l.price, l.amount})
	}
	return out
}
