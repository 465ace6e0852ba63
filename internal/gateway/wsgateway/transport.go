// Package wsgateway speaks the gateway capability over a websocket sidecar:
// JSON request frames out, JSON event frames in.
package wsgateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ctpgate/internal/gateway"
	"ctpgate/logger"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Transport implements gateway.Transport over one websocket connection.
type Transport struct {
	log *logger.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	handler gateway.Handler
}

// New creates an unconnected transport.
func New(log *logger.Log) *Transport {
	return &Transport{log: log.WithComponent("wsgateway")}
}

// Connect dials the endpoint and starts the reader goroutine. Events are
// delivered to h from that goroutine until the connection drops or Close
// is called.
func (t *Transport) Connect(endpoint string, h gateway.Handler) error {
	dialer := websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial gateway front %s: %w", endpoint, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.handler = h
	t.closed = false
	t.mu.Unlock()

	go t.readLoop(conn, h)

	t.log.WithFields(logger.Fields{"endpoint": endpoint}).Info("connected to gateway front")
	h(gateway.Event{Kind: gateway.KindFrontConnected})
	return nil
}

// Send writes one request frame and returns an immediate accept/reject
// code, mirroring the front API contract.
func (t *Transport) Send(req gateway.Request) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return gateway.SendNetworkError
	}
	t.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := t.conn.WriteJSON(req); err != nil {
		t.log.WithError(err).WithFields(logger.Fields{"method": req.Method}).Error("gateway send failed")
		return gateway.SendNetworkError
	}
	return gateway.SendOK
}

// Close tears the connection down. The reader goroutine exits on the next
// read error and does not report the disconnect as remote.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *Transport) readLoop(conn *websocket.Conn, h gateway.Handler) {
	for {
		conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		var ev gateway.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.log.WithError(err).Warn("gateway connection lost")
				h(gateway.Event{Kind: gateway.KindFrontDisconnected})
			}
			return
		}
		h(ev)
	}
}
