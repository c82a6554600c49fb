// Package transporttest provides a fake node websocket endpoint for tests.
package transporttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/dexclient/pkg/transport"
)

// Node accepts websocket connections, records every request and acks
// subscribe/unsubscribe calls with an empty result.
type Node struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	requests []transport.Request
	dials    int
	hold     chan struct{}
	arrived  chan struct{}
	writeMu  sync.Mutex
}

func NewNode() *Node {
	n := &Node{}
	n.srv = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// URL is the ws:// address of the node.
func (n *Node) URL() string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http")
}

func (n *Node) Close() {
	n.DropConnections()
	n.srv.Close()
}

// HoldHandshakes stalls every new websocket handshake until release is
// called. arrived receives once per stalled handshake. Call release before
// Close.
func (n *Node) HoldHandshakes() (arrived <-chan struct{}, release func()) {
	hold := make(chan struct{})
	ch := make(chan struct{}, 16)
	n.mu.Lock()
	n.hold = hold
	n.arrived = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			n.hold = nil
			n.mu.Unlock()
			close(hold)
		})
	}
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	hold, arrived := n.hold, n.arrived
	n.mu.Unlock()
	if hold != nil {
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-hold
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n.mu.Lock()
	n.conns = append(n.conns, conn)
	n.dials++
	n.mu.Unlock()

	for {
		var req transport.Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		n.mu.Lock()
		n.requests = append(n.requests, req)
		n.mu.Unlock()

		_ = n.write(conn, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{},
		})
	}
}

func (n *Node) write(conn *websocket.Conn, v interface{}) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

// Requests returns a copy of every request received so far.
func (n *Node) Requests() []transport.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]transport.Request, len(n.requests))
	copy(out, n.requests)
	return out
}

// CountMethod counts received requests with the given method.
func (n *Node) CountMethod(method string) int {
	c := 0
	for _, r := range n.Requests() {
		if r.Method == method {
			c++
		}
	}
	return c
}

// Dials is the number of accepted connections.
func (n *Node) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

// Push sends an event frame with the given result to the latest connection.
func (n *Node) Push(id transport.SubscriptionID, result interface{}) error {
	n.mu.Lock()
	if len(n.conns) == 0 {
		n.mu.Unlock()
		return websocket.ErrCloseSent
	}
	conn := n.conns[len(n.conns)-1]
	n.mu.Unlock()

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return n.write(conn, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  json.RawMessage(raw),
	})
}

// PushRaw writes an arbitrary text frame to the latest connection.
func (n *Node) PushRaw(frame string) error {
	n.mu.Lock()
	if len(n.conns) == 0 {
		n.mu.Unlock()
		return websocket.ErrCloseSent
	}
	conn := n.conns[len(n.conns)-1]
	n.mu.Unlock()

	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// DropConnections closes every open connection from the server side.
func (n *Node) DropConnections() {
	n.mu.Lock()
	conns := n.conns
	n.conns = nil
	n.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
