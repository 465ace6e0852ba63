// Package gateway defines the capability exposed by the exchange front:
// numbered requests going out, named callback events coming back. The wire
// protocol behind it is out of scope; sessions only rely on this surface.
package gateway

import "encoding/json"

// Kind names a callback event, mirroring the front API's callback set.
type Kind string

const (
	KindFrontConnected       Kind = "front-connected"
	KindFrontDisconnected    Kind = "front-disconnected"
	KindRspAuthenticate      Kind = "rsp-authenticate"
	KindRspUserLogin         Kind = "rsp-user-login"
	KindRspSettlementConfirm Kind = "rsp-settlement-confirm"
	KindRspQryInstrument     Kind = "rsp-qry-instrument"
	KindRspQryAccount        Kind = "rsp-qry-trading-account"
	KindRspQryOrder          Kind = "rsp-qry-order"
	KindRspQryTrade          Kind = "rsp-qry-trade"
	KindRspQryPosition       Kind = "rsp-qry-investor-position"
	KindRspOrderInsert       Kind = "rsp-order-insert"
	KindRspOrderAction       Kind = "rsp-order-action"
	KindRtnOrder             Kind = "rtn-order"
	KindRtnTrade             Kind = "rtn-trade"
	KindRspSubMarketData     Kind = "rsp-sub-market-data"
	KindRspUnsubMarketData   Kind = "rsp-unsub-market-data"
	KindRtnDepthMarketData   Kind = "rtn-depth-market-data"
	KindRspError             Kind = "rsp-error"
)

// Request methods understood by the front.
const (
	MethodAuthenticate      = "authenticate"
	MethodLogin             = "login"
	MethodSettlementConfirm = "settlement-confirm"
	MethodQryInstrument     = "qry-instrument"
	MethodQryAccount        = "qry-trading-account"
	MethodQryOrder          = "qry-order"
	MethodQryTrade          = "qry-trade"
	MethodQryPosition       = "qry-investor-position"
	MethodOrderInsert       = "order-insert"
	MethodOrderAction       = "order-action"
	MethodSubscribe         = "subscribe"
	MethodUnsubscribe       = "unsubscribe"
)

// Immediate return codes of Send. Non-zero codes are synchronous rejections
// raised before any callback is delivered.
const (
	SendOK           = 0
	SendNetworkError = -1
	SendQueueFull    = -2
	SendRateExceeded = -3
)

// RspError is the (code, message) pair carried by error-bearing callbacks.
type RspError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Event is one inbound callback. IsLast marks the final message of a
// multi-part reply. Data is decoded lazily by the handler that knows the
// payload shape for the kind.
type Event struct {
	Kind      Kind            `json:"type"`
	RequestID int             `json:"request_id"`
	IsLast    bool            `json:"is_last"`
	Error     *RspError       `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Failed reports whether the event carries a business error.
func (e Event) Failed() bool {
	return e.Error != nil && e.Error.Code != 0
}

// Request is one outbound numbered request.
type Request struct {
	Method    string      `json:"method"`
	RequestID int         `json:"request_id"`
	Body      interface{} `json:"body,omitempty"`
}

// Handler receives every inbound event of a connection. The transport may
// invoke it from its own goroutines.
type Handler func(Event)

// Transport is the connection to one gateway front. Implementations must
// deliver events to the handler registered at Connect time and return an
// immediate accept/reject code from Send.
type Transport interface {
	Connect(endpoint string, h Handler) error
	Send(req Request) int
	Close() error
}
