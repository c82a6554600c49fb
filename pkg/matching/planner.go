package matching

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/dexclient/pkg/marketmath"
)

// Options 预览选项
type Options struct {
	// CollapseSingleFill 只吃一个档位且没有剩余时，改成在对手价直接挂单（经济上等价，消息更少）
	CollapseSingleFill bool
}

// crosses 请求价格是否穿过对手档位（相等不算穿过，交给链上按挂单处理）
func crosses(side Side, limitPrice, opposingPrice decimal.Decimal) bool {
	if side == SideBuy {
		return limitPrice.GreaterThan(opposingPrice)
	}
	return limitPrice.LessThan(opposingPrice)
}

func reject(plan Plan, reason RejectReason, format string, args ...interface{}) Plan {
	plan.Rejected = &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
	plan.Fills = nil
	plan.Actions = nil
	plan.Remainder = decimal.Zero
	return plan
}

// validatePrice 价格不低于协议下限，且换算成 micro 价格后仍为正
func (m Market) validatePrice(plan Plan, price decimal.Decimal) Plan {
	if minPrice := marketmath.MinimumPrice(m.QuoteExponent, m.BaseExponent); price.LessThan(minPrice) {
		return reject(plan, RejectPriceBelowMinimum, "price %s is below minimum %s", price, minPrice)
	}
	microPrice, err := marketmath.ParseMicro(marketmath.ToMicroPrice(price, m.QuoteExponent, m.BaseExponent))
	if err != nil || !microPrice.IsPositive() {
		return reject(plan, RejectPriceBelowMinimum, "price %s is not representable", price)
	}
	return plan
}

// validateAmount 数量不低于该成交价下的最小可成交数量
func (m Market) validateAmount(plan Plan, price, amount decimal.Decimal) Plan {
	microPrice, err := marketmath.ParseMicro(marketmath.ToMicroPrice(price, m.QuoteExponent, m.BaseExponent))
	if err != nil || !microPrice.IsPositive() {
		return reject(plan, RejectPriceBelowMinimum, "price %s is not representable", price)
	}
	if minAmount := marketmath.MinimumTradableAmount(microPrice, m.BaseExponent); amount.LessThan(minAmount) {
		return reject(plan, RejectAmountTooSmall, "amount %s at price %s is too small, minimum is %s", amount, price, minAmount)
	}
	return plan
}

// validateFills 每笔吃单按它自己的成交价检查，剩余挂单按限价检查
func (m Market) validateFills(plan Plan, fills []Fill, limitPrice, remainder decimal.Decimal) Plan {
	for _, f := range fills {
		if plan = m.validateAmount(plan, f.Price, f.Amount); plan.IsRejected() {
			return plan
		}
	}
	if remainder.IsPositive() {
		return m.validateAmount(plan, limitPrice, remainder)
	}
	return plan
}

// normalizeAmount 按 base 精度向下截断。截断后不为正时返回拒绝：
// 原本为正说明低于代币精度（数量过小），否则是无效数量。
func (m Market) normalizeAmount(plan Plan, amount decimal.Decimal) (Plan, decimal.Decimal) {
	exp := marketmath.NormalizeExponent(m.BaseExponent)
	truncated := amount.Truncate(int32(exp))
	plan.Amount = truncated
	if truncated.IsPositive() {
		return plan, truncated
	}
	if amount.IsPositive() {
		return reject(plan, RejectAmountTooSmall, "amount %s is below the token precision of %d decimals", amount, exp), truncated
	}
	return reject(plan, RejectInvalidAmount, "amount must be positive"), truncated
}

func (m Market) createAction(side Side, price, amount decimal.Decimal) Action {
	return Action{
		Kind:        ActionCreate,
		Side:        side,
		Price:       price,
		Amount:      amount,
		MicroPrice:  marketmath.ToMicroPrice(price, m.QuoteExponent, m.BaseExponent),
		MicroAmount: marketmath.ToMicroAmount(amount, m.BaseExponent),
	}
}

// fillActions 把吃单结果变成消息：单个吃单可选地折叠成对手价挂单，否则一个批量吃单
func (m Market) fillActions(side Side, fills []Fill, remainder decimal.Decimal, opts Options) []Action {
	if len(fills) == 0 {
		return nil
	}
	if opts.CollapseSingleFill && len(fills) == 1 && remainder.IsZero() {
		a := m.createAction(side, fills[0].Price, fills[0].Amount)
		a.MicroPrice = fills[0].MicroPrice
		return []Action{a}
	}
	batch := Action{Kind: ActionFill, Side: side, Amount: decimal.Zero, Fills: fills}
	for _, f := range fills {
		batch.Amount = batch.Amount.Add(f.Amount)
	}
	last := fills[len(fills)-1]
	batch.Price = last.Price
	batch.MicroPrice = last.MicroPrice
	batch.MicroAmount = marketmath.ToMicroAmount(batch.Amount, m.BaseExponent)
	return []Action{batch}
}

// walk 按优先级吃对手档位。limit 为 nil 表示市价单，不检查价格。
func (m Market) walk(side Side, limit *decimal.Decimal, amount decimal.Decimal, opposing []level) ([]Fill, decimal.Decimal) {
	remaining := amount
	var fills []Fill
	for _, lvl := range opposing {
		if !remaining.IsPositive() {
			break
		}
		if limit != nil && !crosses(side, *limit, lvl.price) {
			break
		}
		take := decimal.Min(remaining, lvl.amount)
		fills = append(fills, Fill{
			Price:       lvl.price,
			Amount:      take,
			MicroPrice:  lvl.microPrice,
			MicroAmount: marketmath.ToMicroAmount(take, m.BaseExponent),
		})
		remaining = remaining.Sub(take)
	}
	return fills, remaining
}

// PlanMatch 限价单撮合预览。
//
// 数量先按 base 精度向下截断，Plan.Amount 是截断后的值（链上只接受整数 micro 数量）。
// 对手盘为空或者最优对手价不穿过请求价格时，整笔作为新挂单；
// 否则按优先级吃掉所有穿过的档位，剩余部分在请求价格挂单。
// 最小数量按实际成交价检查：每笔吃单用它的档位价格，剩余挂单用限价。
// 吃单数量之和加上剩余数量恒等于请求数量。
func PlanMatch(m Market, side Side, limitPrice, amount decimal.Decimal, book Book, opts Options) Plan {
	plan := Plan{
		MarketID:   m.ID,
		Side:       side,
		LimitPrice: limitPrice,
		Amount:     amount,
		Remainder:  decimal.Zero,
	}
	if !side.Valid() {
		return reject(plan, RejectInvalidSide, "invalid side %q", side)
	}
	if !limitPrice.IsPositive() {
		return reject(plan, RejectInvalidPrice, "price must be positive")
	}
	if plan, amount = m.normalizeAmount(plan, amount); plan.IsRejected() {
		return plan
	}
	if plan = m.validatePrice(plan, limitPrice); plan.IsRejected() {
		return plan
	}

	opposite := side.Opposite()
	opposing := m.levels(book.Side(opposite), opposite)
	if len(opposing) == 0 || !crosses(side, limitPrice, opposing[0].price) {
		if plan = m.validateAmount(plan, limitPrice, amount); plan.IsRejected() {
			return plan
		}
		plan.Remainder = amount
		plan.Actions = []Action{m.createAction(side, limitPrice, amount)}
		return plan
	}

	fills, remaining := m.walk(side, &limitPrice, amount, opposing)
	if plan = m.validateFills(plan, fills, limitPrice, remaining); plan.IsRejected() {
		return plan
	}
	plan.Fills = fills
	plan.Remainder = remaining
	plan.Actions = m.fillActions(side, fills, remaining, opts)
	if remaining.IsPositive() {
		plan.Actions = append(plan.Actions, m.createAction(side, limitPrice, remaining))
	}
	return plan
}

// PlanMarketOrder 市价单预览：不限价地吃对手盘，订单簿不够吃时拒绝。
// 成交到的最差价格作为计划的限价；数量截断与最小数量规则同 PlanMatch。
func PlanMarketOrder(m Market, side Side, amount decimal.Decimal, book Book, opts Options) Plan {
	plan := Plan{
		MarketID:  m.ID,
		Side:      side,
		Amount:    amount,
		Remainder: decimal.Zero,
	}
	if !side.Valid() {
		return reject(plan, RejectInvalidSide, "invalid side %q", side)
	}
	if plan, amount = m.normalizeAmount(plan, amount); plan.IsRejected() {
		return plan
	}

	opposite := side.Opposite()
	opposing := m.levels(book.Side(opposite), opposite)
	if len(opposing) == 0 {
		return reject(plan, RejectInsufficientLiquidity, "no %s orders in book", opposite)
	}

	fills, remaining := m.walk(side, nil, amount, opposing)
	if remaining.IsPositive() {
		return reject(plan, RejectInsufficientLiquidity, "book can fill only %s of %s", amount.Sub(remaining), amount)
	}
	plan.LimitPrice = fills[len(fills)-1].Price
	if plan = m.validatePrice(plan, plan.LimitPrice); plan.IsRejected() {
		return plan
	}
	if plan = m.validateFills(plan, fills, plan.LimitPrice, decimal.Zero); plan.IsRejected() {
		return plan
	}
	plan.Fills = fills
	plan.Actions = m.fillActions(side, fills, decimal.Zero, opts)
	return plan
}
