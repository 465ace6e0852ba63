// Package session bridges the gateway's callback-driven protocol onto
// blocking calls: a trade session and a quote session, each owning one
// transport, one completion slot and a handler table keyed by event kind.
package session

import (
	"time"

	"ctpgate/models"
)

// State of a session's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateLoggingIn
	StateConfirmingSettlement
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateLoggingIn:
		return "logging-in"
	case StateConfirmingSettlement:
		return "confirming-settlement"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config carries the identity and timing knobs shared by both sessions.
type Config struct {
	Front    string
	BrokerID string
	AppID    string
	AuthCode string
	UserID   string
	Password string

	// CallTimeout bounds every blocking wait; QueryInterval is the minimum
	// spacing between query-class requests.
	CallTimeout   time.Duration
	QueryInterval time.Duration

	// Location renders snapshot timestamps in gateway-local time.
	Location *time.Location
}

func (c *Config) fill() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.QueryInterval <= 0 {
		c.QueryInterval = time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

func (c Config) stamp(t time.Time) string {
	return t.In(c.Location).Format("2006-01-02 15:04:05")
}

// notReady is the uniform guard for operations attempted off a Ready
// session.
func notReady(s State) error {
	if s != StateReady {
		return models.ErrNotConnected
	}
	return nil
}
