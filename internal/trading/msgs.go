package trading

import (
	"context"
	"fmt"

	"github.com/betbot/dexclient/pkg/matching"
)

const (
	TypeURLCreateOrder = "/bze.tradebin.MsgCreateOrder"
	TypeURLFillOrders  = "/bze.tradebin.MsgFillOrders"
)

// Msg 一条待签名的链上消息
type Msg interface {
	TypeURL() string
}

// MsgCreateOrder 新建挂单（micro 单位）
type MsgCreateOrder struct {
	Creator   string `json:"creator"`
	MarketID  string `json:"market_id"`
	OrderType string `json:"order_type"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
}

func (MsgCreateOrder) TypeURL() string { return TypeURLCreateOrder }

// FillItem 吃掉的一个对手档位
type FillItem struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// MsgFillOrders 批量吃单
type MsgFillOrders struct {
	Creator   string     `json:"creator"`
	MarketID  string     `json:"market_id"`
	OrderType string     `json:"order_type"`
	Orders    []FillItem `json:"orders"`
}

func (MsgFillOrders) TypeURL() string { return TypeURLFillOrders }

// TxResult 广播结果
type TxResult struct {
	Succeeded bool   `json:"succeeded"`
	Code      uint32 `json:"code,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Broadcaster 负责签名和广播（钱包/签名客户端在本模块之外实现）
type Broadcaster interface {
	Broadcast(ctx context.Context, msgs []Msg) (TxResult, error)
}

// BuildMsgs 把撮合计划的动作按顺序转成链上消息
func BuildMsgs(creator string, plan matching.Plan) ([]Msg, error) {
	if plan.IsRejected() {
		return nil, plan.Rejected
	}
	msgs := make([]Msg, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		switch a.Kind {
		case matching.ActionCreate:
			msgs = append(msgs, MsgCreateOrder{
				Creator:   creator,
				MarketID:  plan.MarketID,
				OrderType: string(a.Side),
				Amount:    a.MicroAmount,
				Price:     a.MicroPrice,
			})
		case matching.ActionFill:
			items := make([]FillItem, 0, len(a.Fills))
			for _, f := range a.Fills {
				items = append(items, FillItem{Price: f.MicroPrice, Amount: f.MicroAmount})
			}
			msgs = append(msgs, MsgFillOrders{
				Creator:   creator,
				MarketID:  plan.MarketID,
				OrderType: string(a.Side),
				Orders:    items,
			})
		default:
			return nil, fmt.Errorf("unknown action kind %q", a.Kind)
		}
	}
	return msgs, nil
}
