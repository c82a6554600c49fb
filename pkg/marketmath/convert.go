// Package marketmath 链上整数（micro）与展示用十进制之间的换算，以及下单相关的派生计算。
//
// 所有计算都基于 shopspring/decimal，资金路径上不出现 float64：
// 浮点误差会让链上校验拒绝交易，或者让到账金额对不上。
package marketmath

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultExponent 代币精度缺失（为 0）时使用的默认小数位数
	DefaultExponent = 6
	// PricePrecision micro 价格的最大小数位数
	PricePrecision = 14
	// divisionPrecision 除法中间结果保留的位数
	divisionPrecision = 32
)

var (
	two         = decimal.NewFromInt(2)
	daysPerYear = decimal.NewFromInt(365)
	hundred     = decimal.NewFromInt(100)
)

// NormalizeExponent 精度为 0 时退回默认的 6 位（历史约定，不是推断出来的）
func NormalizeExponent(exponent int) int {
	if exponent <= 0 {
		return DefaultExponent
	}
	return exponent
}

// ParseMicro 解析链上返回的数值字符串
func ParseMicro(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return d, nil
}

// ToDisplayAmount micro 数量 -> 展示数量：除以 10^exponent，保留 exponent 位
func ToDisplayAmount(microAmount decimal.Decimal, exponent int) decimal.Decimal {
	exp := NormalizeExponent(exponent)
	return microAmount.Shift(int32(-exp)).Round(int32(exp))
}

// ToMicroAmount 展示数量 -> micro 数量（整数字符串）
// 先按 exponent 位取整再放大，结果一定是整数。
func ToMicroAmount(amount decimal.Decimal, exponent int) string {
	exp := NormalizeExponent(exponent)
	return amount.Round(int32(exp)).Shift(int32(exp)).String()
}

// ToDisplayPrice micro 价格 -> 展示价格：乘以 10^(baseExp - quoteExp)
func ToDisplayPrice(microPrice decimal.Decimal, quoteExponent, baseExponent int) decimal.Decimal {
	return microPrice.Shift(int32(baseExponent - quoteExponent))
}

// ToMicroPrice 展示价格 -> micro 价格：乘以 10^(quoteExp - baseExp)，最多保留 14 位小数
func ToMicroPrice(price decimal.Decimal, quoteExponent, baseExponent int) string {
	return price.Shift(int32(quoteExponent - baseExponent)).Round(PricePrecision).String()
}

// MinimumPrice 协议允许的最低展示价格：14 位精度下最小的非零 micro 价格
func MinimumPrice(quoteExponent, baseExponent int) decimal.Decimal {
	return ToDisplayPrice(decimal.New(1, -PricePrecision), quoteExponent, baseExponent)
}

// MinimumTradableAmount 撮合引擎能成交的最小数量（展示单位）。
//
// ceil(1/microPrice) 是让对手方至少拿到 1 个 micro 的数量，乘 2 防止取整后为 0，
// 换算成展示数量后再乘 2，避免订单因为截断而无法成交。
// 这个公式必须与链上的最小成交规则保持一致，这里只是客户端的预检查。
func MinimumTradableAmount(microPrice decimal.Decimal, exponent int) decimal.Decimal {
	if !microPrice.IsPositive() {
		return decimal.Zero
	}
	minMicro := decimal.NewFromInt(1).DivRound(microPrice, divisionPrecision).Ceil().Mul(two)
	return ToDisplayAmount(minMicro, exponent).Mul(two)
}

// EstimateApr 根据每日奖励与质押量估算年化（百分比）
// 小于 1% 时保留 6 位，否则保留 2 位。
func EstimateApr(dailyRewardMicroAmount, stakedMicroAmount decimal.Decimal) decimal.Decimal {
	if !stakedMicroAmount.IsPositive() {
		return decimal.Zero
	}
	apr := dailyRewardMicroAmount.DivRound(stakedMicroAmount, divisionPrecision).Mul(daysPerYear).Mul(hundred)
	if apr.LessThan(decimal.NewFromInt(1)) {
		return apr.Round(6)
	}
	return apr.Round(2)
}

// Total 价格 * 数量，按报价币精度取整
func Total(price, amount decimal.Decimal, quoteExponent int) decimal.Decimal {
	return price.Mul(amount).Round(int32(NormalizeExponent(quoteExponent)))
}

// AmountFromTotal 总额 / 价格，按基础币精度向下截断（派生出来的数量不能超过用户输入的总额）
func AmountFromTotal(total, price decimal.Decimal, baseExponent int) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return total.DivRound(price, divisionPrecision).Truncate(int32(NormalizeExponent(baseExponent)))
}

// PriceFromTotal 总额 / 数量，结果对齐到链上可表示的价格精度
func PriceFromTotal(total, amount decimal.Decimal, quoteExponent, baseExponent int) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	raw := total.DivRound(amount, divisionPrecision)
	micro, err := ParseMicro(ToMicroPrice(raw, quoteExponent, baseExponent))
	if err != nil {
		return decimal.Zero
	}
	return ToDisplayPrice(micro, quoteExponent, baseExponent)
}
