package matching

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/dexclient/pkg/marketmath"
)

// Field 下单表单中的可编辑字段
type Field int

const (
	FieldPrice Field = iota
	FieldAmount
	FieldTotal
)

// Intent 用户的下单意图（临时输入，不持久化）
type Intent struct {
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Total  decimal.Decimal `json:"total"`
}

// Form 下单表单：价格、数量、总额三者中最多两个由用户编辑，第三个总是派生出来。
type Form struct {
	market Market
	intent Intent
	edited []Field // 最近编辑的两个字段，新的在后
}

// NewForm 创建表单
func NewForm(m Market, side Side) *Form {
	return &Form{
		market: m,
		intent: Intent{Side: side, Price: decimal.Zero, Amount: decimal.Zero, Total: decimal.Zero},
	}
}

func (f *Form) SetSide(side Side) {
	f.intent.Side = side
}

func (f *Form) SetPrice(price decimal.Decimal) {
	f.intent.Price = price
	f.touch(FieldPrice)
}

func (f *Form) SetAmount(amount decimal.Decimal) {
	f.intent.Amount = amount
	f.touch(FieldAmount)
}

func (f *Form) SetTotal(total decimal.Decimal) {
	f.intent.Total = total
	f.touch(FieldTotal)
}

// Reset 清空输入
func (f *Form) Reset() {
	side := f.intent.Side
	*f = *NewForm(f.market, side)
}

// Intent 当前表单内容
func (f *Form) Intent() Intent {
	return f.intent
}

// Derived 当前由系统计算的字段
func (f *Form) Derived() Field {
	in := map[Field]bool{}
	for _, fld := range f.edited {
		in[fld] = true
	}
	for _, fld := range []Field{FieldTotal, FieldAmount, FieldPrice} {
		if !in[fld] {
			return fld
		}
	}
	return FieldTotal
}

// Plan 用当前表单内容对订单簿做撮合预览
func (f *Form) Plan(book Book, opts Options) Plan {
	return PlanMatch(f.market, f.intent.Side, f.intent.Price, f.intent.Amount, book, opts)
}

func (f *Form) touch(fld Field) {
	out := make([]Field, 0, 2)
	for _, e := range f.edited {
		if e != fld {
			out = append(out, e)
		}
	}
	out = append(out, fld)
	if len(out) > 2 {
		out = out[len(out)-2:]
	}
	f.edited = out
	f.derive()
}

func (f *Form) derive() {
	m := f.market
	in := &f.intent
	switch f.Derived() {
	case FieldTotal:
		in.Total = marketmath.Total(in.Price, in.Amount, m.QuoteExponent)
	case FieldAmount:
		in.Amount = marketmath.AmountFromTotal(in.Total, in.Price, m.BaseExponent)
	case FieldPrice:
		in.Price = marketmath.PriceFromTotal(in.Total, in.Amount, m.QuoteExponent, m.BaseExponent)
	}
}
