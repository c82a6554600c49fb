package transport_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dexclient/pkg/transport"
	"github.com/betbot/dexclient/pkg/transport/transporttest"
)

func newTransport(t *testing.T, node *transporttest.Node) *transport.Transport {
	t.Helper()
	cfg := transport.DefaultConfig(node.URL())
	cfg.ReconnectDelay = 0
	cfg.PingInterval = 0
	tr := transport.New(cfg)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

type recorder struct {
	mu   sync.Mutex
	msgs []*transport.Message
}

func (r *recorder) handle(m *transport.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestSubscribe_SendsEnvelopeWithMonotonicIDs(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	tr := newTransport(t, node)

	id1, err := tr.Subscribe("tm.event='Tx' AND transfer.recipient='bze1a'", nil)
	require.NoError(t, err)
	id2, err := tr.Subscribe("tm.event='Tx' AND transfer.sender='bze1a'", nil)
	require.NoError(t, err)
	assert.Greater(t, int64(id2), int64(id1))

	require.Eventually(t, func() bool { return len(node.Requests()) == 2 }, time.Second, 5*time.Millisecond)
	reqs := node.Requests()
	assert.Equal(t, "2.0", reqs[0].JSONRPC)
	assert.Equal(t, transport.MethodSubscribe, reqs[0].Method)
	assert.Equal(t, id1, reqs[0].ID)
	assert.Equal(t, "tm.event='Tx' AND transfer.recipient='bze1a'", reqs[0].Params.Query)
	assert.Equal(t, id2, reqs[1].ID)
	assert.Equal(t, 1, node.Dials())
}

func TestSubscribe_IDsAreScopedPerTransport(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()

	a := newTransport(t, node)
	b := newTransport(t, node)
	idA, err := a.Subscribe("q1", nil)
	require.NoError(t, err)
	idB, err := b.Subscribe("q2", nil)
	require.NoError(t, err)
	assert.Equal(t, transport.SubscriptionID(1), idA)
	assert.Equal(t, transport.SubscriptionID(1), idB)
}

func TestSubscribe_EmptyQuery(t *testing.T) {
	tr := transport.New(transport.Config{URL: "ws://127.0.0.1:1"})
	_, err := tr.Subscribe("  ", nil)
	assert.ErrorIs(t, err, transport.ErrEmptyQuery)
}

func TestSubscribe_DialFailure(t *testing.T) {
	tr := transport.New(transport.Config{URL: "ws://127.0.0.1:1", HandshakeTimeout: 200 * time.Millisecond})
	_, err := tr.Subscribe("q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Empty(t, tr.Subscriptions())
}

func TestDispatchByID(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	tr := newTransport(t, node)

	var first, second recorder
	id1, err := tr.Subscribe("q1", first.handle)
	require.NoError(t, err)
	id2, err := tr.Subscribe("q2", second.handle)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(node.Requests()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, node.Push(id2, map[string]interface{}{"query": "q2", "data": map[string]interface{}{"type": "tendermint/event/Tx"}}))
	require.NoError(t, node.PushRaw("not json"))
	require.NoError(t, node.Push(id1, map[string]interface{}{"query": "q1"}))

	require.Eventually(t, func() bool { return first.count() == 1 && second.count() == 1 }, time.Second, 5*time.Millisecond)

	second.mu.Lock()
	msg := second.msgs[0]
	second.mu.Unlock()
	var result struct {
		Query string `json:"query"`
	}
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.Equal(t, "q2", result.Query)
}

func TestResubscribe_UnsubscribesPreviousFirst(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	tr := newTransport(t, node)

	id, err := tr.Subscribe("market_id='a'", nil)
	require.NoError(t, err)
	require.NoError(t, tr.Resubscribe(id, "market_id='b'", nil))

	require.Eventually(t, func() bool { return len(node.Requests()) == 3 }, time.Second, 5*time.Millisecond)
	reqs := node.Requests()
	assert.Equal(t, transport.MethodUnsubscribe, reqs[1].Method)
	assert.Equal(t, "market_id='a'", reqs[1].Params.Query)
	assert.Equal(t, transport.MethodSubscribe, reqs[2].Method)
	assert.Equal(t, "market_id='b'", reqs[2].Params.Query)
	assert.Equal(t, id, reqs[2].ID)
	assert.Equal(t, []transport.SubscriptionID{id}, tr.Subscriptions())

	assert.ErrorIs(t, tr.Resubscribe(id+100, "x", nil), transport.ErrUnknownSubscription)
}

func TestUnsubscribe(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	tr := newTransport(t, node)

	id, err := tr.Subscribe("q", nil)
	require.NoError(t, err)
	require.NoError(t, tr.Unsubscribe(id))
	assert.ErrorIs(t, tr.Unsubscribe(id), transport.ErrUnknownSubscription)

	require.Eventually(t, func() bool { return node.CountMethod(transport.MethodUnsubscribe) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, tr.Subscriptions())
}

func TestLazyReconnectResendsSubscriptions(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	tr := newTransport(t, node)

	_, err := tr.Subscribe("q1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(node.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	node.DropConnections()
	require.Eventually(t, func() bool { return !tr.Connected() }, time.Second, 5*time.Millisecond)

	// 下一次发送触发重连，并先补发已有订阅
	_, err = tr.Subscribe("q2", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(node.Requests()) == 3 }, time.Second, 5*time.Millisecond)

	reqs := node.Requests()
	assert.Equal(t, "q1", reqs[1].Params.Query)
	assert.Equal(t, "q2", reqs[2].Params.Query)
	assert.Equal(t, 2, node.Dials())
}

func TestBackgroundReconnect(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()

	cfg := transport.DefaultConfig(node.URL())
	cfg.PingInterval = 0
	cfg.ReconnectDelay = 20 * time.Millisecond
	tr := transport.New(cfg)
	defer tr.Close()

	_, err := tr.Subscribe("q1", nil)
	require.NoError(t, err)
	node.DropConnections()

	require.Eventually(t, func() bool { return node.Dials() == 2 && tr.Connected() }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return node.CountMethod(transport.MethodSubscribe) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	tr := newTransport(t, node)

	_, err := tr.Subscribe("q", nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())
	assert.Empty(t, tr.Subscriptions())
}

func TestDialDoesNotBlockOtherCallers(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	arrived, release := node.HoldHandshakes()
	defer release()
	tr := newTransport(t, node)

	var rec recorder
	subscribed := make(chan error, 2)
	go func() {
		_, err := tr.Subscribe("q1", rec.handle)
		subscribed <- err
	}()
	select {
	case <-arrived:
	case <-time.After(time.Second):
		t.Fatal("handshake never reached the node")
	}

	// 握手被挂起期间，只读方法不能被拨号阻塞
	answered := make(chan struct{})
	go func() {
		_ = tr.Connected()
		_ = tr.Subscriptions()
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Connected/Subscriptions blocked by an in-flight dial")
	}
	assert.False(t, tr.Connected())

	// 第二个订阅等待同一次拨号，不会再拨一次
	go func() {
		_, err := tr.Subscribe("q2", rec.handle)
		subscribed <- err
	}()
	require.Eventually(t, func() bool { return len(tr.Subscriptions()) == 2 }, time.Second, 5*time.Millisecond)

	release()
	for i := 0; i < 2; i++ {
		select {
		case err := <-subscribed:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("subscribe did not return after the handshake completed")
		}
	}
	assert.True(t, tr.Connected())
	assert.Equal(t, 1, node.Dials())
	require.Eventually(t, func() bool { return node.CountMethod(transport.MethodSubscribe) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCloseDuringDial(t *testing.T) {
	node := transporttest.NewNode()
	defer node.Close()
	arrived, release := node.HoldHandshakes()
	defer release()
	tr := newTransport(t, node)

	connected := make(chan error, 1)
	go func() { connected <- tr.Connect() }()
	select {
	case <-arrived:
	case <-time.After(time.Second):
		t.Fatal("handshake never reached the node")
	}

	require.NoError(t, tr.Close())
	release()

	select {
	case err := <-connected:
		assert.ErrorIs(t, err, transport.ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("connect did not return")
	}
	assert.False(t, tr.Connected())
}

func TestMessageIsAck(t *testing.T) {
	tests := []struct {
		frame string
		ack   bool
	}{
		{`{"jsonrpc":"2.0","id":1,"result":{}}`, true},
		{`{"jsonrpc":"2.0","id":"1","result":{}}`, true},
		{`{"jsonrpc":"2.0","id":1}`, true},
		{`{"jsonrpc":"2.0","id":1,"result":{"query":"q"}}`, false},
		{`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"boom"}}`, false},
	}
	for _, tt := range tests {
		var m transport.Message
		require.NoError(t, json.Unmarshal([]byte(tt.frame), &m), tt.frame)
		assert.Equal(t, transport.SubscriptionID(1), m.ID)
		assert.Equal(t, tt.ack, m.IsAck(), tt.frame)
	}
}
