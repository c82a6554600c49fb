// Package transport is a JSON-RPC websocket client for the node's event
// subscription endpoint. One Transport multiplexes any number of query
// subscriptions over a single connection, addressed by SubscriptionID.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "transport")

// Config represents configuration for the transport
type Config struct {
	URL              string
	ProxyURL         string
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	// ReconnectDelay > 0 re-dials in the background after an unexpected
	// disconnect while subscriptions are registered. Zero leaves reconnection
	// to the next send.
	ReconnectDelay time.Duration
}

// DefaultConfig returns a configuration with the usual timeouts for endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		URL:              endpoint,
		PingInterval:     20 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		ReconnectDelay:   5 * time.Second,
	}
}

type subscription struct {
	id      SubscriptionID
	query   string
	handler Handler
}

// Transport is safe for concurrent use. Handlers run on the read goroutine.
type Transport struct {
	cfg    Config
	nextID int64

	// mu guards everything below and serializes writes on conn. It is not
	// held across a dial.
	mu             sync.Mutex
	conn           *websocket.Conn
	connDone       chan struct{}
	dialing        chan struct{} // closed when the in-flight dial finishes
	closes         uint64
	subs           map[SubscriptionID]*subscription
	reconnectTimer *time.Timer
}

// New creates a transport. No connection is made until the first send.
func New(cfg Config) *Transport {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &Transport{
		cfg:  cfg,
		subs: make(map[SubscriptionID]*subscription),
	}
}

// URL returns the endpoint this transport dials.
func (t *Transport) URL() string {
	return t.cfg.URL
}

// Connect dials eagerly. It is a no-op when already connected.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.ensureConnLocked()
	return err
}

// Connected reports whether a connection is currently open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Subscriptions returns the registered ids in ascending order.
func (t *Transport) Subscriptions() []SubscriptionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orderedIDsLocked()
}

// Subscribe registers handler for query and sends the subscribe request,
// dialing first if needed. The returned id is required to unsubscribe.
func (t *Transport) Subscribe(query string, handler Handler) (SubscriptionID, error) {
	if strings.TrimSpace(query) == "" {
		return 0, ErrEmptyQuery
	}
	id := SubscriptionID(atomic.AddInt64(&t.nextID, 1))

	t.mu.Lock()
	defer t.mu.Unlock()

	t.subs[id] = &subscription{id: id, query: query, handler: handler}
	if err := t.sendSubscribeLocked(id, query); err != nil {
		delete(t.subs, id)
		return 0, err
	}
	log.Debugf("subscribed id=%d query=%q", id, query)
	return id, nil
}

// Resubscribe replaces the registration under id. The previous query is
// unsubscribed first so at most one registration exists per id.
func (t *Transport) Resubscribe(id SubscriptionID, query string, handler Handler) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.subs[id]
	if !ok {
		return ErrUnknownSubscription
	}
	if t.conn != nil {
		if err := t.writeLocked(newRequest(MethodUnsubscribe, id, prev.query)); err != nil {
			log.WithError(err).Warnf("unsubscribe id=%d before resubscribe failed", id)
		}
	}

	t.subs[id] = &subscription{id: id, query: query, handler: handler}
	if err := t.sendSubscribeLocked(id, query); err != nil {
		delete(t.subs, id)
		return err
	}
	return nil
}

// Unsubscribe drops the registration under id. The unsubscribe request is
// only sent when a connection is open; a closed transport is not re-dialed
// just to unsubscribe.
func (t *Transport) Unsubscribe(id SubscriptionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subs[id]
	if !ok {
		return ErrUnknownSubscription
	}
	delete(t.subs, id)

	if t.conn == nil {
		return nil
	}
	return t.writeLocked(newRequest(MethodUnsubscribe, id, sub.query))
}

// Close drops every subscription and closes the connection. It is idempotent,
// and a later Subscribe dials again.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.subs = make(map[SubscriptionID]*subscription)
	t.closes++
	return t.closeConnLocked()
}

func newRequest(method string, id SubscriptionID, query string) Request {
	return Request{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		ID:      id,
		Params:  Params{Query: query},
	}
}

func (t *Transport) orderedIDsLocked() []SubscriptionID {
	ids := make([]SubscriptionID, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sendSubscribeLocked sends the subscribe request for a registered id. A
// fresh connection already resent every registration, including this one.
func (t *Transport) sendSubscribeLocked(id SubscriptionID, query string) error {
	fresh, err := t.ensureConnLocked()
	if err != nil {
		return err
	}
	if fresh {
		return nil
	}
	return t.writeLocked(newRequest(MethodSubscribe, id, query))
}

// ensureConnLocked dials when no connection is open and resends all
// registered subscriptions. fresh reports whether a connection was set up
// after the call began, so every registration made before it was resent.
//
// t.mu is released for the duration of the dial and reacquired before
// return. Concurrent callers wait for the in-flight dial instead of
// starting their own.
func (t *Transport) ensureConnLocked() (fresh bool, err error) {
	for t.conn == nil && t.dialing != nil {
		wait := t.dialing
		t.mu.Unlock()
		<-wait
		t.mu.Lock()
		fresh = true
	}
	if t.conn != nil {
		return fresh, nil
	}

	dialing := make(chan struct{})
	t.dialing = dialing
	closes := t.closes
	t.mu.Unlock()
	conn, err := t.dial()
	t.mu.Lock()
	t.dialing = nil
	close(dialing)

	if err != nil {
		return false, err
	}
	if t.closes != closes {
		_ = conn.Close()
		return false, fmt.Errorf("%w: closed while dialing %s", ErrNotConnected, t.cfg.URL)
	}

	done := make(chan struct{})
	t.conn = conn
	t.connDone = done
	go t.readLoop(conn, done)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop(conn, done)
	}

	ids := t.orderedIDsLocked()
	log.Infof("connected to %s, restoring %d subscriptions", t.cfg.URL, len(ids))
	for _, id := range ids {
		sub := t.subs[id]
		if err := t.writeLocked(newRequest(MethodSubscribe, id, sub.query)); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Transport) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	if t.cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(t.cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.Dial(t.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNotConnected, t.cfg.URL, err)
	}

	if t.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		})
	}
	return conn, nil
}

func (t *Transport) writeLocked(req Request) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := t.conn.WriteJSON(req); err != nil {
		_ = t.closeConnLocked()
		return fmt.Errorf("failed to send %s id=%d: %w", req.Method, req.ID, err)
	}
	return nil
}

func (t *Transport) closeConnLocked() error {
	if t.conn == nil {
		return nil
	}
	close(t.connDone)
	err := t.conn.Close()
	t.conn = nil
	t.connDone = nil
	return err
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("readLoop panic recovered: %v", r)
			t.handleDisconnect(conn)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("websocket read error")
			}
			t.handleDisconnect(conn)
			return
		}
		if t.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		}
		t.handleFrame(data)
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with other writers
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				log.WithError(err).Warn("failed to send ping")
				t.handleDisconnect(conn)
				return
			}
		}
	}
}

// handleDisconnect forgets conn if it is still current and schedules a
// background re-dial when configured.
func (t *Transport) handleDisconnect(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn {
		return
	}
	_ = t.closeConnLocked()
	t.scheduleReconnectLocked()
}

func (t *Transport) scheduleReconnectLocked() {
	if t.cfg.ReconnectDelay <= 0 || len(t.subs) == 0 || t.reconnectTimer != nil {
		return
	}
	t.reconnectTimer = time.AfterFunc(t.cfg.ReconnectDelay, t.reconnect)
}

func (t *Transport) reconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reconnectTimer = nil
	if t.conn != nil || len(t.subs) == 0 {
		return
	}
	if _, err := t.ensureConnLocked(); err != nil {
		log.WithError(err).Warn("reconnect failed, retrying")
		t.scheduleReconnectLocked()
	}
}

func (t *Transport) handleFrame(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		log.Debugf("ignoring undecodable frame: %v (len=%d)", err, len(trimmed))
		return
	}
	if msg.Error != nil {
		log.WithField("id", msg.ID).Warnf("node returned error: %v", msg.Error)
		return
	}
	if msg.IsAck() {
		log.Debugf("subscription ack id=%d", msg.ID)
		return
	}

	t.mu.Lock()
	sub, ok := t.subs[msg.ID]
	t.mu.Unlock()
	if !ok || sub.handler == nil {
		log.Debugf("no handler for id=%d", msg.ID)
		return
	}
	sub.handler(&msg)
}
