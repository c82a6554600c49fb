package events

import (
	"encoding/json"
)

// 链上模块的事件类型
const (
	TypeOrderSaved    = "bze.tradebin.OrderSavedEvent"
	TypeOrderExecuted = "bze.tradebin.OrderExecutedEvent"
	TypeOrderCanceled = "bze.tradebin.OrderCanceledEvent"

	TypeCoinReceived = "coin_received"
	TypeCoinSpent    = "coin_spent"

	TypeRaffleWinner = "bze.burner.RaffleWinnerEvent"
	TypeRaffleLost   = "bze.burner.RaffleLostEvent"
)

// Meta 所有类型化事件共有的部分：事件类型 + 全部解码后的属性
type Meta struct {
	Type       string            `json:"-"`
	Attributes map[string]string `json:"-"`
}

func (m *Meta) setMeta(eventType string, attrs map[string]string) {
	m.Type = eventType
	m.Attributes = attrs
}

type metaSetter interface {
	setMeta(eventType string, attrs map[string]string)
}

// OrderSavedEvent 新挂单
type OrderSavedEvent struct {
	Meta
	OrderID   string `json:"orderId"`
	MarketID  string `json:"marketId"`
	OrderType string `json:"orderType"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Owner     string `json:"owner"`
}

// OrderExecutedEvent 订单被吃（部分或全部）
type OrderExecutedEvent struct {
	Meta
	ID        string `json:"id"`
	MarketID  string `json:"marketId"`
	OrderType string `json:"orderType"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
}

// OrderCanceledEvent 撤单
type OrderCanceledEvent struct {
	Meta
	OrderID   string `json:"orderId"`
	MarketID  string `json:"marketId"`
	OrderType string `json:"orderType"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
}

// CoinReceivedEvent bank 模块入账
type CoinReceivedEvent struct {
	Meta
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

// CoinSpentEvent bank 模块出账
type CoinSpentEvent struct {
	Meta
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// RaffleWinnerEvent 抽奖中奖
type RaffleWinnerEvent struct {
	Meta
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
	Winner string `json:"winner"`
}

// RaffleLostEvent 抽奖未中
type RaffleLostEvent struct {
	Meta
	Denom       string `json:"denom"`
	Participant string `json:"participant"`
}

// MarketID 返回交易类事件的市场 id，非交易类事件返回空串
func MarketID(raw RawEvent) string {
	for _, a := range raw.Attributes {
		if CamelCase(a.Key) == "marketId" {
			return unquote(a.Value)
		}
	}
	return ""
}

// Decode 把原始事件解码成类型化事件。不会失败：无法识别的字段忽略，缺失字段保持零值。
func Decode[T any](raw RawEvent) T {
	var out T
	flat := Flatten(raw)
	if b, err := json.Marshal(flat); err == nil {
		_ = json.Unmarshal(b, &out)
	}
	if m, ok := any(&out).(metaSetter); ok {
		m.setMeta(raw.Type, flat)
	}
	return out
}

// DecodeAll 过滤出 eventType 的事件并逐个解码
func DecodeAll[T any](evs []RawEvent, eventType string) []T {
	matched := Filter(evs, eventType)
	if len(matched) == 0 {
		return nil
	}
	out := make([]T, 0, len(matched))
	for _, e := range matched {
		out = append(out, Decode[T](e))
	}
	return out
}
