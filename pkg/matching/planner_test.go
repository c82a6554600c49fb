package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 两边都是 6 位精度：micro 价格 == 展示价格，micro 数量 == 展示数量 * 1e6
var testMarket = Market{ID: "ubze/uusdc", Base: "ubze", Quote: "uusdc", BaseExponent: 6, QuoteExponent: 6}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sell(price, amount string) AggregatedOrder {
	return AggregatedOrder{Price: price, Amount: amount, OrderType: SideSell}
}

func buy(price, amount string) AggregatedOrder {
	return AggregatedOrder{Price: price, Amount: amount, OrderType: SideBuy}
}

// assertComplete 吃单之和 + 剩余 == 请求数量
func assertComplete(t *testing.T, plan Plan) {
	t.Helper()
	sum := plan.FilledAmount().Add(plan.Remainder)
	assert.True(t, sum.Equal(plan.Amount), "fills+remainder=%s amount=%s", sum, plan.Amount)
}

// assertCrossing 买单成交价不高于限价，卖单不低于限价
func assertCrossing(t *testing.T, plan Plan) {
	t.Helper()
	for _, f := range plan.Fills {
		if plan.Side == SideBuy {
			assert.True(t, f.Price.LessThanOrEqual(plan.LimitPrice), "buy fill %s > limit %s", f.Price, plan.LimitPrice)
		} else {
			assert.True(t, f.Price.GreaterThanOrEqual(plan.LimitPrice), "sell fill %s < limit %s", f.Price, plan.LimitPrice)
		}
	}
}

func TestPlanMatch_SimpleNewOrder(t *testing.T) {
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("10"), Book{}, Options{})

	require.False(t, plan.IsRejected())
	require.Len(t, plan.Actions, 1)
	a := plan.Actions[0]
	assert.Equal(t, ActionCreate, a.Kind)
	assert.Equal(t, "10", a.Amount.String())
	assert.Equal(t, "2", a.Price.String())
	assert.Equal(t, "10000000", a.MicroAmount)
	assert.Equal(t, "2", a.MicroPrice)
	assert.Empty(t, plan.Fills)
	assertComplete(t, plan)
}

func TestPlanMatch_FullSingleFill(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{sell("1", "5000000")}}
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("5"), book, Options{})

	require.False(t, plan.IsRejected())
	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "1", plan.Fills[0].Price.String())
	assert.Equal(t, "5", plan.Fills[0].Amount.String())
	assert.True(t, plan.Remainder.IsZero())
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionFill, plan.Actions[0].Kind)
	assert.Equal(t, "5000000", plan.Actions[0].MicroAmount)
	assertComplete(t, plan)
	assertCrossing(t, plan)
}

func TestPlanMatch_CollapseSingleFill(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{sell("1", "5000000")}}
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("5"), book, Options{CollapseSingleFill: true})

	require.Len(t, plan.Actions, 1)
	a := plan.Actions[0]
	assert.Equal(t, ActionCreate, a.Kind)
	assert.Equal(t, "1", a.MicroPrice, "collapsed order uses the opposing order's exact price")
	assert.Equal(t, "5000000", a.MicroAmount)
}

func TestPlanMatch_PartialFillPlusRemainder(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{sell("1", "3000000")}}
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("10"), book, Options{CollapseSingleFill: true})

	require.False(t, plan.IsRejected())
	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "1", plan.Fills[0].Price.String())
	assert.Equal(t, "3", plan.Fills[0].Amount.String())
	assert.Equal(t, "7", plan.Remainder.String())

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, ActionFill, plan.Actions[0].Kind)
	assert.Equal(t, ActionCreate, plan.Actions[1].Kind)
	assert.Equal(t, "2", plan.Actions[1].Price.String())
	assert.Equal(t, "7", plan.Actions[1].Amount.String())
	assertComplete(t, plan)
	assertCrossing(t, plan)
}

func TestPlanMatch_BelowMinimumAmountRejected(t *testing.T) {
	// 成交价 0.0005 -> 最小数量 0.008，限价 0.001 -> 0.004
	book := Book{Sells: []AggregatedOrder{sell("0.0005", "5000000")}}
	plan := PlanMatch(testMarket, SideBuy, dec("0.001"), dec("0.003"), book, Options{})

	require.True(t, plan.IsRejected())
	assert.Equal(t, RejectAmountTooSmall, plan.Rejected.Reason)
	assert.Empty(t, plan.Actions)
	assert.Empty(t, plan.Fills)
}

func TestPlanMatch_MinimumCheckedAtFillPrice(t *testing.T) {
	// 限价 1 下最小数量只有 0.000004，但实际成交价 0.001 需要 0.004
	book := Book{Sells: []AggregatedOrder{sell("0.001", "5000000")}}
	plan := PlanMatch(testMarket, SideBuy, dec("1"), dec("0.001"), book, Options{})

	require.True(t, plan.IsRejected())
	assert.Equal(t, RejectAmountTooSmall, plan.Rejected.Reason)
	assert.Contains(t, plan.Rejected.Message, "0.004")
	assert.Empty(t, plan.Actions)
	assert.Empty(t, plan.Fills)

	// 足够的数量照常成交
	plan = PlanMatch(testMarket, SideBuy, dec("1"), dec("0.004"), book, Options{})
	require.False(t, plan.IsRejected())
	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "0.001", plan.Fills[0].Price.String())
}

func TestPlanMatch_SmallTrailingFillRejected(t *testing.T) {
	// 第一档吃满后只剩 0.001 落到价格 0.001 的第二档，低于该价下的最小数量
	book := Book{Sells: []AggregatedOrder{sell("0.0009", "5000000"), sell("0.001", "5000000")}}
	plan := PlanMatch(testMarket, SideBuy, dec("0.002"), dec("5.001"), book, Options{})

	require.True(t, plan.IsRejected())
	assert.Equal(t, RejectAmountTooSmall, plan.Rejected.Reason)
}

func TestPlanMatch_SmallRemainderCheckedAtLimit(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{sell("1", "1000000")}}

	// 剩余 0.000001 在限价 2 下低于最小数量 0.000004
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("1.000001"), book, Options{})
	require.True(t, plan.IsRejected())
	assert.Equal(t, RejectAmountTooSmall, plan.Rejected.Reason)

	plan = PlanMatch(testMarket, SideBuy, dec("2"), dec("1.000004"), book, Options{})
	require.False(t, plan.IsRejected())
	assert.Equal(t, "0.000004", plan.Remainder.String())
}

func TestPlanMarketOrder_MinimumCheckedPerFill(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{sell("0.001", "5000000")}}
	plan := PlanMarketOrder(testMarket, SideBuy, dec("0.001"), book, Options{})
	require.True(t, plan.IsRejected())
	assert.Equal(t, RejectAmountTooSmall, plan.Rejected.Reason)
}

func TestPlanMatch_AmountTruncatedToBasePrecision(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{sell("1", "5000000")}}

	// 超出 6 位的部分向下截断，Plan.Amount 是截断后的值
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("1.23456789"), book, Options{})
	require.False(t, plan.IsRejected())
	assert.Equal(t, "1.234567", plan.Amount.String())
	assert.Equal(t, "1234567", plan.Actions[0].MicroAmount)
	assertComplete(t, plan)

	// 低于代币精度的正数是数量过小，不是无效数量
	for _, planFn := range []func() Plan{
		func() Plan { return PlanMatch(testMarket, SideBuy, dec("2"), dec("0.0000001"), book, Options{}) },
		func() Plan { return PlanMarketOrder(testMarket, SideBuy, dec("0.0000001"), book, Options{}) },
	} {
		plan := planFn()
		require.True(t, plan.IsRejected())
		assert.Equal(t, RejectAmountTooSmall, plan.Rejected.Reason)
		assert.Contains(t, plan.Rejected.Message, "precision")
	}
}

func TestPlanMatch_InvalidInputs(t *testing.T) {
	tests := []struct {
		name   string
		side   Side
		price  string
		amount string
		reason RejectReason
	}{
		{"zero price", SideBuy, "0", "1", RejectInvalidPrice},
		{"negative price", SideSell, "-1", "1", RejectInvalidPrice},
		{"zero amount", SideBuy, "1", "0", RejectInvalidAmount},
		{"bad side", Side("hold"), "1", "1", RejectInvalidSide},
		{"below price floor", SideBuy, "0.000000000000001", "1", RejectPriceBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanMatch(testMarket, tt.side, dec(tt.price), dec(tt.amount), Book{}, Options{})
			require.True(t, plan.IsRejected())
			assert.Equal(t, tt.reason, plan.Rejected.Reason)
			assert.Empty(t, plan.Actions)
		})
	}
}

func TestPlanMatch_NonCrossingBestPrice(t *testing.T) {
	// 相等不算穿过，整笔挂单
	book := Book{Sells: []AggregatedOrder{sell("2", "5000000")}}
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("3"), book, Options{})

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionCreate, plan.Actions[0].Kind)
	assert.Empty(t, plan.Fills)
	assert.Equal(t, "3", plan.Remainder.String())
}

func TestPlanMatch_MultipleLevelsStopAtLimit(t *testing.T) {
	// 故意乱序，规划器需要按升序吃
	book := Book{Sells: []AggregatedOrder{
		sell("1.5", "2000000"),
		sell("1", "1000000"),
		sell("3", "9000000"),
	}}
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("5"), book, Options{})

	require.False(t, plan.IsRejected())
	require.Len(t, plan.Fills, 2)
	assert.Equal(t, "1", plan.Fills[0].Price.String())
	assert.Equal(t, "1.5", plan.Fills[1].Price.String())
	assert.Equal(t, "2", plan.Remainder.String())
	require.Len(t, plan.Actions, 2)
	assert.Len(t, plan.Actions[0].Fills, 2)
	assert.Equal(t, "3", plan.Actions[0].Amount.String())

	avg, ok := plan.AveragePrice()
	require.True(t, ok)
	assert.True(t, avg.Equal(dec("1.333333333333333333")), "avg=%s", avg)
	assertComplete(t, plan)
	assertCrossing(t, plan)
}

func TestPlanMatch_SellAgainstBuys(t *testing.T) {
	book := Book{Buys: []AggregatedOrder{
		buy("0.9", "4000000"),
		buy("1.2", "1000000"),
		buy("0.5", "100000000"),
	}}
	plan := PlanMatch(testMarket, SideSell, dec("0.8"), dec("6"), book, Options{})

	require.False(t, plan.IsRejected())
	require.Len(t, plan.Fills, 2)
	assert.Equal(t, "1.2", plan.Fills[0].Price.String())
	assert.Equal(t, "0.9", plan.Fills[1].Price.String())
	assert.Equal(t, "1", plan.Remainder.String())
	assertComplete(t, plan)
	assertCrossing(t, plan)
}

func TestPlanMatch_SkipsMalformedLevels(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{
		sell("abc", "1000000"),
		sell("1", "0"),
		sell("1", "2000000"),
	}}
	plan := PlanMatch(testMarket, SideBuy, dec("2"), dec("1"), book, Options{})
	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "1", plan.Fills[0].Amount.String())
}

func TestPlanMatch_CompletenessOverGrid(t *testing.T) {
	book := Book{
		Sells: []AggregatedOrder{sell("1", "1500000"), sell("1.1", "2500000"), sell("1.3", "700000")},
		Buys:  []AggregatedOrder{buy("0.9", "1200000"), buy("0.8", "3000000")},
	}
	for _, side := range []Side{SideBuy, SideSell} {
		for _, price := range []string{"0.5", "0.85", "1", "1.2", "2"} {
			for _, amount := range []string{"0.5", "1.5", "3.333333", "10"} {
				plan := PlanMatch(testMarket, side, dec(price), dec(amount), book, Options{})
				require.False(t, plan.IsRejected(), "side=%s price=%s amount=%s", side, price, amount)
				assertComplete(t, plan)
				assertCrossing(t, plan)
			}
		}
	}
}

func TestPlanMarketOrder(t *testing.T) {
	book := Book{Sells: []AggregatedOrder{sell("1", "1000000"), sell("2", "1000000")}}

	plan := PlanMarketOrder(testMarket, SideBuy, dec("1.5"), book, Options{})
	require.False(t, plan.IsRejected())
	assert.Equal(t, "2", plan.LimitPrice.String())
	require.Len(t, plan.Fills, 2)
	assert.True(t, plan.Remainder.IsZero())
	assertComplete(t, plan)

	plan = PlanMarketOrder(testMarket, SideBuy, dec("3"), book, Options{})
	require.True(t, plan.IsRejected())
	assert.Equal(t, RejectInsufficientLiquidity, plan.Rejected.Reason)

	plan = PlanMarketOrder(testMarket, SideSell, dec("1"), book, Options{})
	require.True(t, plan.IsRejected())
	assert.Equal(t, RejectInsufficientLiquidity, plan.Rejected.Reason)
}

func TestBookTopAndDepth(t *testing.T) {
	book := Book{
		Sells: []AggregatedOrder{sell("1.2", "1000000"), sell("1.1", "1000000")},
		Buys:  []AggregatedOrder{buy("0.9", "1000000"), buy("0.95", "2000000")},
	}
	top := book.Top(testMarket)
	assert.Equal(t, "0.95", top.BestBid.String())
	assert.Equal(t, "1.1", top.BestAsk.String())

	depth := book.Depth(testMarket, SideBuy, 1)
	require.Len(t, depth, 1)
	assert.Equal(t, "0.95", depth[0][0].String())
	assert.Equal(t, "2", depth[0][1].String())
}
