package stream

import (
	"encoding/json"
	"time"

	"github.com/rickgao/trade-gateway/internal/backoff"
)

// State is the connection state of the multiplexer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Callback receives the data payload of every frame for a subscribed topic.
type Callback func(data json.RawMessage)

// controlFrame is a SUBSCRIBE/UNSUBSCRIBE message to the upstream feed.
// ID is a per-connection monotonic counter; acknowledgements are not
// correlated against it.
type controlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

const (
	methodSubscribe   = "SUBSCRIBE"
	methodUnsubscribe = "UNSUBSCRIBE"
)

// dataFrame is an inbound combined-stream message. Frames without a stream
// name are control acknowledgements and are ignored.
type dataFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Config configures the Stream Multiplexer.
type Config struct {
	URL                 string         // combined-stream WebSocket URL
	Backoff             backoff.Policy // reconnect delay policy
	HealthCheckInterval time.Duration  // how often the data watchdog runs
	DataTimeout         time.Duration  // max silence before forcing a reconnect
	WriteTimeout        time.Duration  // write deadline for control frames
	HandshakeTimeout    time.Duration  // dial timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backoff:             backoff.StreamPolicy(),
		HealthCheckInterval: 30 * time.Second,
		DataTimeout:         60 * time.Second,
		WriteTimeout:        5 * time.Second,
		HandshakeTimeout:    10 * time.Second,
	}
}
