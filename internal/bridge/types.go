package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/trade-gateway/internal/backoff"
)

// Endpoint is the engine address shared with the process supervisor. It is
// read once at the composition root and injected into both components so
// they cannot disagree about where the engine lives.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Emitter receives every normalized event from the engine stream.
type Emitter func(eventType string, payload json.RawMessage)

// CommandResult is the outcome of a control command. Transport failures are
// reported through OK/Error rather than a Go error: SendControl never fails
// out of band.
type CommandResult struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Status is the last engine status snapshot. The payload is replaced
// wholesale on each status message; no history is kept. Consumers must
// treat it as potentially stale while the bridge is disconnected.
type Status struct {
	Data       json.RawMessage
	ReceivedAt time.Time
}

// envelope is the engine's outer message framing.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	kindStatus = "status"
	kindEvent  = "event"
)

// Config configures the Bridge Client.
type Config struct {
	EventsPath       string         // WebSocket path of the event stream
	ControlPath      string         // HTTP path of the control endpoint
	Backoff          backoff.Policy // reconnect delay policy
	CommandTimeout   time.Duration  // per-command HTTP timeout
	HandshakeTimeout time.Duration  // dial timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		EventsPath:       "/api/v1/message/ws",
		ControlPath:      "/api/v1/control",
		Backoff:          backoff.BridgePolicy(),
		CommandTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}
