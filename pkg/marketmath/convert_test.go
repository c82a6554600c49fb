package marketmath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToDisplayAmount(t *testing.T) {
	tests := []struct {
		name     string
		micro    string
		exponent int
		want     string
	}{
		{"six decimals", "1234567", 6, "1.234567"},
		{"zero exponent uses default six", "1500000", 0, "1.5"},
		{"eighteen decimals", "1000000000000000001", 18, "1.000000000000000001"},
		{"two decimals", "12345", 2, "123.45"},
		{"zero", "0", 6, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDisplayAmount(d(tt.micro), tt.exponent)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToMicroAmount(t *testing.T) {
	assert.Equal(t, "1234567", ToMicroAmount(d("1.234567"), 6))
	assert.Equal(t, "1500000", ToMicroAmount(d("1.5"), 0))
	// 超出精度的部分按四舍五入处理
	assert.Equal(t, "1234568", ToMicroAmount(d("1.2345675"), 6))
	assert.Equal(t, "100", ToMicroAmount(d("1"), 2))
}

func TestAmountRoundTrip(t *testing.T) {
	micros := []string{"0", "1", "999999", "1000000", "123456789012345678901234567890"}
	exponents := []int{0, 2, 6, 8, 18}
	for _, m := range micros {
		for _, exp := range exponents {
			got := ToMicroAmount(ToDisplayAmount(d(m), exp), exp)
			assert.Equal(t, m, got, "micro=%s exp=%d", m, exp)
		}
	}
}

func TestPriceConversion(t *testing.T) {
	// quote 6 位，base 8 位：micro 价格 * 10^(8-6)
	assert.Equal(t, "12.5", ToDisplayPrice(d("0.125"), 6, 8).String())
	assert.Equal(t, "0.125", ToMicroPrice(d("12.5"), 6, 8))
	// 同精度不缩放
	assert.Equal(t, "2", ToMicroPrice(d("2"), 6, 6))
	// 超出 14 位小数按 14 位取整
	assert.Equal(t, "0.33333333333333", ToMicroPrice(d("0.333333333333333333"), 6, 6))
}

func TestPriceRoundTrip(t *testing.T) {
	prices := []string{"1", "0.00000000000001", "123.45678901234567", "0.5"}
	pairs := [][2]int{{6, 6}, {6, 8}, {8, 6}, {18, 6}}
	for _, p := range prices {
		for _, pair := range pairs {
			micro := d(p)
			display := ToDisplayPrice(micro, pair[0], pair[1])
			back := ToMicroPrice(display, pair[0], pair[1])
			assert.True(t, d(back).Equal(micro.Round(PricePrecision)), "price=%s pair=%v got=%s", p, pair, back)
		}
	}
}

func TestMinimumTradableAmount(t *testing.T) {
	// micro 价格 2：ceil(0.5)=1，*2=2 micro，展示 0.000002，再 *2
	assert.Equal(t, "0.000004", MinimumTradableAmount(d("2"), 6).String())
	// micro 价格 0.001：ceil(1000)=1000，*2=2000 micro -> 0.002 -> 0.004
	assert.Equal(t, "0.004", MinimumTradableAmount(d("0.001"), 6).String())
	// 不能整除时向上取整：1/0.3 = 3.33 -> 4
	assert.Equal(t, "0.000016", MinimumTradableAmount(d("0.3"), 6).String())
	assert.True(t, MinimumTradableAmount(decimal.Zero, 6).IsZero())
}

func TestEstimateApr(t *testing.T) {
	// 每日 1/1000 -> 36.5%
	assert.Equal(t, "36.5", EstimateApr(d("1000"), d("1000000")).String())
	// 小于 1% 保留 6 位
	assert.Equal(t, "0.0365", EstimateApr(d("1"), d("1000000")).String())
	assert.Equal(t, "0.000365", EstimateApr(d("1"), d("100000000")).String())
	assert.True(t, EstimateApr(d("10"), decimal.Zero).IsZero())
}

func TestMinimumPrice(t *testing.T) {
	assert.Equal(t, "0.00000000000001", MinimumPrice(6, 6).String())
	assert.Equal(t, "0.000000000001", MinimumPrice(6, 8).String())
}

func TestFormDerivations(t *testing.T) {
	assert.Equal(t, "20", Total(d("2"), d("10"), 6).String())
	assert.Equal(t, "3.333333", AmountFromTotal(d("10"), d("3"), 6).String())
	assert.True(t, AmountFromTotal(d("10"), decimal.Zero, 6).IsZero())
	assert.Equal(t, "2.5", PriceFromTotal(d("25"), d("10"), 6, 6).String())
}

func TestParseMicro(t *testing.T) {
	v, err := ParseMicro(" 1500 ")
	require.NoError(t, err)
	assert.Equal(t, "1500", v.String())

	_, err = ParseMicro("")
	assert.Error(t, err)
	_, err = ParseMicro("abc")
	assert.Error(t, err)
}

func TestTopOfBook(t *testing.T) {
	tob := TopOfBook{BestBid: d("0.99"), BestAsk: d("1.01")}
	require.NoError(t, tob.Validate())
	spread, ok := tob.Spread()
	require.True(t, ok)
	assert.Equal(t, "0.02", spread.String())
	mid, ok := tob.MidPrice()
	require.True(t, ok)
	assert.Equal(t, "1", mid.String())

	askOnly := TopOfBook{BestAsk: d("3")}
	_, ok = askOnly.Spread()
	assert.False(t, ok)
	mid, ok = askOnly.MidPrice()
	require.True(t, ok)
	assert.Equal(t, "3", mid.String())

	assert.Error(t, TopOfBook{}.Validate())
}
