package listener

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/betbot/dexclient/pkg/events"
	"github.com/betbot/dexclient/pkg/transport"
)

// Coin 链上金额（micro 单位）
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

var coinRe = regexp.MustCompile(`^([0-9]+)([a-zA-Z][a-zA-Z0-9/:._-]*)$`)

// ParseCoins 解析 "2000000uusdc,5ubze" 形式的金额列表，无法识别的片段跳过
func ParseCoins(s string) []Coin {
	var out []Coin
	for _, part := range strings.Split(s, ",") {
		m := coinRe.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			continue
		}
		out = append(out, Coin{Amount: m[1], Denom: m[2]})
	}
	return out
}

// BalanceChange 一条推送消息中与地址相关的入账/出账
type BalanceChange struct {
	Address  string
	Received []Coin
	Spent    []Coin
}

// Denoms 本次变动涉及的 denom（去重，保持出现顺序）
func (c BalanceChange) Denoms() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]Coin{c.Received, c.Spent} {
		for _, coin := range list {
			if _, ok := seen[coin.Denom]; ok {
				continue
			}
			seen[coin.Denom] = struct{}{}
			out = append(out, coin.Denom)
		}
	}
	return out
}

// BalanceListener 监听某个地址的转入转出
type BalanceListener struct {
	base
	address  string
	onChange callbacks[BalanceChange]
}

func NewBalanceListener(tr Subscriber, address string, opts ...Option) *BalanceListener {
	l := &BalanceListener{address: address}
	l.init("balance", tr, opts)
	return l
}

// BalanceQueries 地址作为收款方和付款方的两条交易订阅
func BalanceQueries(address string) []string {
	return []string{
		fmt.Sprintf("tm.event='Tx' AND transfer.recipient='%s'", address),
		fmt.Sprintf("tm.event='Tx' AND transfer.sender='%s'", address),
	}
}

// Address 当前监听的地址
func (l *BalanceListener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

// OnChange 注册余额变动回调，按注册顺序调用
func (l *BalanceListener) OnChange(fn func(BalanceChange)) {
	l.onChange.add(fn)
}

// Start 幂等
func (l *BalanceListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.address == "" {
		return ErrEmptyKey
	}
	address := l.address
	q := BalanceQueries(address)
	return l.startLocked([]subscription{
		{query: q[0], handler: func(msg *transport.Message) { l.handle(address, events.TypeCoinReceived, msg) }},
		{query: q[1], handler: func(msg *transport.Message) { l.handle(address, events.TypeCoinSpent, msg) }},
	})
}

// Stop 幂等，同时清空回调
func (l *BalanceListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked(l.onChange.clear)
}

// SetAddress 地址变化时停止旧订阅并回到 Idle，需要重新注册回调后再 Start
func (l *BalanceListener) SetAddress(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if address == l.address {
		return
	}
	l.stopLocked(l.onChange.clear)
	l.address = address
}

// handle 收款订阅只看 coin_received，付款订阅只看 coin_spent。
// 自己转给自己的交易会命中两条订阅，各自只报告一半。
func (l *BalanceListener) handle(address, eventType string, msg *transport.Message) {
	evs := events.ExtractEvents(msg)
	if len(evs) == 0 {
		return
	}

	change := BalanceChange{Address: address}
	switch eventType {
	case events.TypeCoinReceived:
		for _, e := range events.DecodeAll[events.CoinReceivedEvent](evs, eventType) {
			if e.Receiver == address {
				change.Received = append(change.Received, ParseCoins(e.Amount)...)
			}
		}
	case events.TypeCoinSpent:
		for _, e := range events.DecodeAll[events.CoinSpentEvent](evs, eventType) {
			if e.Spender == address {
				change.Spent = append(change.Spent, ParseCoins(e.Amount)...)
			}
		}
	}
	if len(change.Received) == 0 && len(change.Spent) == 0 {
		return
	}
	l.onChange.emit(change)
}
