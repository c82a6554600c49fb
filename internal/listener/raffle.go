package listener

import (
	"fmt"

	"github.com/betbot/dexclient/pkg/events"
	"github.com/betbot/dexclient/pkg/transport"
)

// RaffleListener 监听某个地址参与的抽奖结果（区块事件）
type RaffleListener struct {
	base
	address  string
	onWinner callbacks[events.RaffleWinnerEvent]
	onLost   callbacks[events.RaffleLostEvent]
}

func NewRaffleListener(tr Subscriber, address string, opts ...Option) *RaffleListener {
	l := &RaffleListener{address: address}
	l.init("raffle", tr, opts)
	return l
}

func RaffleQueries(address string) []string {
	return []string{
		fmt.Sprintf(`tm.event='NewBlock' AND %s.winner='"%s"'`, events.TypeRaffleWinner, address),
		fmt.Sprintf(`tm.event='NewBlock' AND %s.participant='"%s"'`, events.TypeRaffleLost, address),
	}
}

func (l *RaffleListener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

func (l *RaffleListener) OnWinner(fn func(events.RaffleWinnerEvent)) {
	l.onWinner.add(fn)
}

func (l *RaffleListener) OnLost(fn func(events.RaffleLostEvent)) {
	l.onLost.add(fn)
}

func (l *RaffleListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.address == "" {
		return ErrEmptyKey
	}
	address := l.address
	q := RaffleQueries(address)
	return l.startLocked([]subscription{
		{query: q[0], handler: func(msg *transport.Message) { l.handle(address, events.TypeRaffleWinner, msg) }},
		{query: q[1], handler: func(msg *transport.Message) { l.handle(address, events.TypeRaffleLost, msg) }},
	})
}

func (l *RaffleListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked(l.clearCallbacks)
}

func (l *RaffleListener) SetAddress(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if address == l.address {
		return
	}
	l.stopLocked(l.clearCallbacks)
	l.address = address
}

func (l *RaffleListener) clearCallbacks() {
	l.onWinner.clear()
	l.onLost.clear()
}

func (l *RaffleListener) handle(address, eventType string, msg *transport.Message) {
	evs := events.ExtractEvents(msg)
	switch eventType {
	case events.TypeRaffleWinner:
		for _, e := range events.DecodeAll[events.RaffleWinnerEvent](evs, eventType) {
			if e.Winner == address {
				l.onWinner.emit(e)
			}
		}
	case events.TypeRaffleLost:
		for _, e := range events.DecodeAll[events.RaffleLostEvent](evs, eventType) {
			if e.Participant == address {
				l.onLost.emit(e)
			}
		}
	}
}
