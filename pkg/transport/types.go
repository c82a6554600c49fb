package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// JSON-RPC methods understood by the node's websocket endpoint.
const (
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	jsonRPCVersion = "2.0"
)

var (
	ErrNotConnected        = errors.New("transport: not connected")
	ErrUnknownSubscription = errors.New("transport: unknown subscription id")
	ErrEmptyQuery          = errors.New("transport: empty query")
)

// SubscriptionID addresses one subscription channel. Ids are unique per
// Transport instance and never reused.
type SubscriptionID int64

func (id SubscriptionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts both numeric and quoted ids; some gateways echo the
// id back as a string.
func (id *SubscriptionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("transport: non-numeric id %q", s)
		}
		*id = SubscriptionID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*id = SubscriptionID(v)
	return nil
}

// Params carries the event query of a subscribe/unsubscribe request.
type Params struct {
	Query string `json:"query"`
}

// Request is the outgoing JSON-RPC envelope.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	ID      SubscriptionID `json:"id"`
	Params  Params         `json:"params"`
}

// RPCError is the error object of a failed JSON-RPC call.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Message is an incoming frame. Result stays raw; event decoding happens in
// the events package.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      SubscriptionID  `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsAck reports whether the frame only confirms a subscribe/unsubscribe call
// (empty result object) and carries no event data.
func (m *Message) IsAck() bool {
	if m.Error != nil {
		return false
	}
	r := bytes.TrimSpace(m.Result)
	return len(r) == 0 || bytes.Equal(r, []byte("{}")) || bytes.Equal(r, []byte("null"))
}

// Handler receives every event frame for the subscription it was registered with.
type Handler func(msg *Message)
