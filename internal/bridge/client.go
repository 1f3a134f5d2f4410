package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/trade-gateway/internal/metrics"
)

// Client maintains a live connection to the sibling engine's event stream.
// Its lifecycle is independent of whoever started the engine process: the
// bridge keeps trying to connect while started, whether or not the
// supervisor has the process up yet.
type Client struct {
	cfg      Config
	endpoint Endpoint
	logger   *slog.Logger
	httpc    *http.Client

	mu        sync.Mutex
	started   bool
	connected bool
	conn      *websocket.Conn
	gen       int
	retry     *time.Timer
	attempt   int
	emitter   Emitter
	status    Status
}

// NewClient creates a bridge client for the given engine endpoint.
func NewClient(cfg Config, endpoint Endpoint, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	return &Client{
		cfg:      cfg,
		endpoint: endpoint,
		logger:   logger,
		httpc: &http.Client{
			Timeout: cfg.CommandTimeout,
		},
	}
}

// Start begins connecting and routes every normalized event to emitter.
// Calling Start again without an intervening Stop is a no-op.
func (c *Client) Start(emitter Emitter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true
	c.attempt = 0
	c.emitter = emitter
	c.connectLocked()

	c.logger.Info("bridge started", "endpoint", c.endpoint.String())
}

// Stop disconnects and cancels any pending reconnect. Safe to call when
// never started, and safe to call repeatedly.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.started = false
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	metrics.BridgeConnected.Set(0)

	c.logger.Info("bridge stopped")
}

// IsConnected reports whether the event stream is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Status returns the last status snapshot. ok is false when no status has
// been received yet. The snapshot may be stale during an outage.
func (c *Client) Status() (status Status, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.status.Data != nil
}

// SendControl issues a one-shot command to the engine's control endpoint.
// It always returns a result: transport failures come back as OK=false
// with the error string, never as a Go error or panic.
func (c *Client) SendControl(ctx context.Context, action string, params map[string]any) CommandResult {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["action"] = action

	encoded, err := json.Marshal(body)
	if err != nil {
		return CommandResult{Error: fmt.Sprintf("encode command: %v", err)}
	}

	url := fmt.Sprintf("http://%s%s", c.endpoint.String(), c.cfg.ControlPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return CommandResult{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Warn("control command failed", "action", action, "error", err)
		return CommandResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return CommandResult{Error: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CommandResult{
			Error: fmt.Sprintf("engine returned %s", resp.Status),
			Data:  json.RawMessage(sanitizeJSON(data)),
		}
	}

	return CommandResult{OK: true, Data: json.RawMessage(sanitizeJSON(data))}
}

// connectLocked dials the event stream asynchronously.
func (c *Client) connectLocked() {
	c.gen++
	go c.dial(c.gen)
}

func (c *Client) eventsURL() string {
	return fmt.Sprintf("ws://%s%s", c.endpoint.String(), c.cfg.EventsPath)
}

func (c *Client) dial(gen int) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.Dial(c.eventsURL(), nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || gen != c.gen {
		// Result of an attempt that outlived Stop; ignore it.
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		// Refused connections are routine while the engine boots.
		if errors.Is(err, syscall.ECONNREFUSED) {
			c.logger.Debug("engine not accepting connections yet", "error", err)
		} else {
			c.logger.Warn("bridge connect failed", "url", c.eventsURL(), "error", err)
		}
		c.scheduleReconnectLocked()
		return
	}

	c.conn = conn
	c.connected = true
	c.attempt = 0
	metrics.BridgeConnected.Set(1)

	c.logger.Info("bridge connected", "endpoint", c.endpoint.String())

	go c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		c.handleMessage(gen, data)
	}
}

// handleMessage processes one inbound engine message. A malformed message
// is logged and dropped; it never takes the connection down.
func (c *Client) handleMessage(gen int, raw []byte) {
	var env envelope
	if err := json.Unmarshal(sanitizeJSON(raw), &env); err != nil {
		metrics.BridgeParseErrors.Inc()
		c.logger.Warn("unparseable engine message dropped", "error", err)
		return
	}

	switch env.Type {
	case kindStatus:
		c.mu.Lock()
		if gen == c.gen {
			c.status = Status{Data: env.Data, ReceivedAt: time.Now()}
		}
		c.mu.Unlock()

	case kindEvent:
		eventType, payload, err := translateEvent(env.Data)
		if err != nil {
			metrics.BridgeParseErrors.Inc()
			c.logger.Warn("untranslatable engine event dropped", "error", err)
			return
		}

		c.mu.Lock()
		emitter := c.emitter
		stale := gen != c.gen
		c.mu.Unlock()
		if stale || emitter == nil {
			return
		}

		metrics.BridgeEvents.WithLabelValues(eventType).Inc()
		emitter(eventType, payload)

	default:
		// Unrecognized kinds are dropped silently.
	}
}

func (c *Client) handleReadError(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	c.connected = false
	metrics.BridgeConnected.Set(0)
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++

	if !c.started {
		return
	}

	c.logger.Warn("bridge connection lost", "error", err)
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	delay := c.cfg.Backoff.Delay(c.attempt)
	c.attempt++
	metrics.BridgeReconnects.Inc()

	c.logger.Debug("bridge reconnect scheduled", "delay", delay, "attempt", c.attempt)

	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.retry = nil
		if !c.started || c.connected {
			return
		}
		c.connectLocked()
	})
}
