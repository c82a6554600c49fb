package listener

import (
	"fmt"

	"github.com/betbot/dexclient/pkg/events"
	"github.com/betbot/dexclient/pkg/transport"
)

// MarketEvent 一条推送消息中属于某个市场的订单事件
type MarketEvent struct {
	MarketID string
	Saved    []events.OrderSavedEvent
	Executed []events.OrderExecutedEvent
	Canceled []events.OrderCanceledEvent
}

func (e MarketEvent) Empty() bool {
	return len(e.Saved) == 0 && len(e.Executed) == 0 && len(e.Canceled) == 0
}

// MarketListener 监听某个市场的挂单/成交/撤单
type MarketListener struct {
	base
	marketID string
	onEvent  callbacks[MarketEvent]
}

func NewMarketListener(tr Subscriber, marketID string, opts ...Option) *MarketListener {
	l := &MarketListener{marketID: marketID}
	l.init("market", tr, opts)
	return l
}

var marketEventTypes = []string{events.TypeOrderSaved, events.TypeOrderExecuted, events.TypeOrderCanceled}

func marketQuery(eventType, marketID string) string {
	return fmt.Sprintf(`tm.event='Tx' AND %s.market_id='"%s"'`, eventType, marketID)
}

// MarketQueries tradebin 三种订单事件按 market_id 过滤的订阅（属性值是 JSON 字符串，带引号）
func MarketQueries(marketID string) []string {
	out := make([]string, 0, len(marketEventTypes))
	for _, typ := range marketEventTypes {
		out = append(out, marketQuery(typ, marketID))
	}
	return out
}

func (l *MarketListener) MarketID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marketID
}

// OnEvent 注册市场事件回调，按注册顺序调用
func (l *MarketListener) OnEvent(fn func(MarketEvent)) {
	l.onEvent.add(fn)
}

func (l *MarketListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.marketID == "" {
		return ErrEmptyKey
	}
	marketID := l.marketID
	subs := make([]subscription, 0, len(marketEventTypes))
	for _, typ := range marketEventTypes {
		subs = append(subs, subscription{
			query:   marketQuery(typ, marketID),
			handler: func(msg *transport.Message) { l.handle(marketID, typ, msg) },
		})
	}
	return l.startLocked(subs)
}

func (l *MarketListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked(l.onEvent.clear)
}

// SetMarketID 市场变化时停止旧订阅并回到 Idle
func (l *MarketListener) SetMarketID(marketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if marketID == l.marketID {
		return
	}
	l.stopLocked(l.onEvent.clear)
	l.marketID = marketID
}

// handle 只解码 eventType 一种事件
func (l *MarketListener) handle(marketID, eventType string, msg *transport.Message) {
	evs := events.ExtractEvents(msg)
	if len(evs) == 0 {
		return
	}

	ev := MarketEvent{MarketID: marketID}
	switch eventType {
	case events.TypeOrderSaved:
		for _, e := range events.DecodeAll[events.OrderSavedEvent](evs, eventType) {
			if e.MarketID == marketID {
				ev.Saved = append(ev.Saved, e)
			}
		}
	case events.TypeOrderExecuted:
		for _, e := range events.DecodeAll[events.OrderExecutedEvent](evs, eventType) {
			if e.MarketID == marketID {
				ev.Executed = append(ev.Executed, e)
			}
		}
	case events.TypeOrderCanceled:
		for _, e := range events.DecodeAll[events.OrderCanceledEvent](evs, eventType) {
			if e.MarketID == marketID {
				ev.Canceled = append(ev.Canceled, e)
			}
		}
	}
	if ev.Empty() {
		return
	}
	l.onEvent.emit(ev)
}
