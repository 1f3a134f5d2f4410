package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/trade-gateway/internal/metrics"
)

// Multiplexer shares one upstream combined-stream connection between any
// number of consumers. Topics are reference-counted: the first subscriber
// for a topic triggers a SUBSCRIBE frame, the last unsubscriber triggers an
// UNSUBSCRIBE frame, and closing the last topic closes the connection.
type Multiplexer struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	gen       int // connection generation; stale goroutine results are ignored
	topics    map[string]*topicState
	nextSubID int
	frameID   int64
	attempt   int
	retry     *time.Timer
	lastFrame time.Time
	destroyed bool

	watchdogStop chan struct{}
}

// topicState tracks one subscribable topic. The refcount is len(subs).
// active means a SUBSCRIBE frame has been sent on the current connection,
// which is tracked separately so a subscribe racing a connect never
// duplicates the frame.
type topicState struct {
	subs   []subscriber
	active bool
}

type subscriber struct {
	id int
	fn Callback
}

// NewMultiplexer creates a multiplexer. The connection is opened lazily on
// the first Subscribe call.
func NewMultiplexer(cfg Config, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = def.DataTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	m := &Multiplexer{
		cfg:          cfg,
		logger:       logger,
		topics:       make(map[string]*topicState),
		watchdogStop: make(chan struct{}),
	}

	go m.watchdog()

	return m
}

// Subscribe registers fn for topic and returns an idempotent unsubscribe
// function. The topic key is opaque and case-sensitive. Subscribing never
// blocks on network I/O; the SUBSCRIBE frame is deferred to the next
// successful connect when the connection is not up yet.
func (m *Multiplexer) Subscribe(topic string, fn Callback) (unsubscribe func()) {
	m.mu.Lock()

	if m.destroyed {
		m.mu.Unlock()
		return func() {}
	}

	ts, ok := m.topics[topic]
	if !ok {
		ts = &topicState{}
		m.topics[topic] = ts
	}

	id := m.nextSubID
	m.nextSubID++
	ts.subs = append(ts.subs, subscriber{id: id, fn: fn})

	switch m.state {
	case StateConnected:
		if !ts.active {
			m.sendControlLocked(methodSubscribe, topic)
			ts.active = true
		}
	case StateDisconnected:
		// A pending retry timer already owns the reconnect; don't race it.
		if m.retry == nil {
			m.connectLocked()
		}
	case StateConnecting:
		// Deferred: the connect path subscribes every desired topic.
	}

	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.removeSubscriber(topic, id)
		})
	}
}

// State returns the current connection state.
func (m *Multiplexer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the shared connection is up.
func (m *Multiplexer) IsConnected() bool {
	return m.State() == StateConnected
}

// TopicCount returns the number of active topics.
func (m *Multiplexer) TopicCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

// Destroy permanently shuts the multiplexer down. No reconnect attempt will
// ever fire afterwards. Safe to call more than once and from any state.
func (m *Multiplexer) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.closeLocked()
	m.topics = make(map[string]*topicState)
	m.mu.Unlock()

	close(m.watchdogStop)
	m.logger.Info("stream multiplexer destroyed")
}

// removeSubscriber drops one callback and performs the 1→0 bookkeeping.
func (m *Multiplexer) removeSubscriber(topic string, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.topics[topic]
	if !ok {
		return
	}

	for i, s := range ts.subs {
		if s.id == id {
			ts.subs = append(ts.subs[:i], ts.subs[i+1:]...)
			break
		}
	}
	if len(ts.subs) > 0 {
		return
	}

	delete(m.topics, topic)
	if m.state == StateConnected && ts.active {
		m.sendControlLocked(methodUnsubscribe, topic)
	}

	if len(m.topics) == 0 {
		m.logger.Debug("last topic removed, closing stream connection")
		m.closeLocked()
	}
}

// connectLocked transitions to CONNECTING and dials asynchronously.
func (m *Multiplexer) connectLocked() {
	m.state = StateConnecting
	m.gen++
	go m.dial(m.gen)
}

// dial attempts the connection for generation gen. The result is discarded
// if the multiplexer moved on (destroy, close, newer generation) while the
// handshake was in flight.
func (m *Multiplexer) dial(gen int) {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.Dial(m.cfg.URL, nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed || gen != m.gen || len(m.topics) == 0 {
		if conn != nil {
			conn.Close()
		}
		if m.state == StateConnecting && gen == m.gen {
			m.state = StateDisconnected
		}
		return
	}

	if err != nil {
		m.logger.Warn("stream connect failed", "url", m.cfg.URL, "error", err)
		m.scheduleReconnectLocked()
		return
	}

	m.conn = conn
	m.state = StateConnected
	m.attempt = 0
	m.lastFrame = time.Now()
	metrics.StreamConnected.Set(1)

	// Re-issue SUBSCRIBE for the current desired topic set, not a replay of
	// every call made while disconnected.
	for topic, ts := range m.topics {
		m.sendControlLocked(methodSubscribe, topic)
		ts.active = true
	}

	m.logger.Info("stream connected", "url", m.cfg.URL, "topics", len(m.topics))

	go m.readLoop(conn, gen)
}

// readLoop reads frames until the connection dies, then enters the
// reconnect path.
func (m *Multiplexer) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		if !m.dispatch(gen, data) {
			return
		}
	}
}

// dispatch routes one inbound frame. Returns false when the generation is
// stale and the loop should exit.
func (m *Multiplexer) dispatch(gen int, data []byte) bool {
	m.mu.Lock()
	if m.destroyed || gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.lastFrame = time.Now()

	var frame dataFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.mu.Unlock()
		m.logger.Debug("unparseable stream frame dropped", "error", err)
		return true
	}
	if frame.Stream == "" {
		// Control acknowledgement; intentionally not correlated.
		m.mu.Unlock()
		return true
	}

	var subs []subscriber
	if ts, ok := m.topics[frame.Stream]; ok {
		subs = append(subs, ts.subs...)
	}
	m.mu.Unlock()

	metrics.StreamFrames.WithLabelValues(frame.Stream).Inc()
	for _, s := range subs {
		m.deliver(frame.Stream, s, frame.Data)
	}
	return true
}

// deliver invokes one callback, isolating panics so a broken consumer
// cannot block its siblings or poison the connection.
func (m *Multiplexer) deliver(topic string, s subscriber, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.StreamCallbackPanics.Inc()
			m.logger.Error("stream callback panicked", "topic", topic, "panic", r)
		}
	}()
	s.fn(data)
}

// handleReadError runs the disconnect bookkeeping for generation gen.
func (m *Multiplexer) handleReadError(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed || gen != m.gen {
		return
	}

	m.logger.Warn("stream connection lost", "error", err)
	metrics.StreamConnected.Set(0)

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	for _, ts := range m.topics {
		ts.active = false
	}
	m.gen++

	if len(m.topics) == 0 {
		m.state = StateDisconnected
		return
	}
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
func (m *Multiplexer) scheduleReconnectLocked() {
	delay := m.cfg.Backoff.Delay(m.attempt)
	m.attempt++
	m.state = StateDisconnected
	metrics.StreamReconnects.Inc()

	m.logger.Info("stream reconnect scheduled", "delay", delay, "attempt", m.attempt)

	m.retry = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.retry = nil
		if m.destroyed || len(m.topics) == 0 || m.state != StateDisconnected {
			return
		}
		m.connectLocked()
	})
}

// sendControlLocked writes a SUBSCRIBE/UNSUBSCRIBE frame. A write failure
// is only logged: the read loop will observe the dead connection and drive
// the reconnect.
func (m *Multiplexer) sendControlLocked(method, topic string) {
	if m.conn == nil {
		return
	}
	m.frameID++
	frame := controlFrame{
		Method: method,
		Params: []string{topic},
		ID:     m.frameID,
	}
	m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := m.conn.WriteJSON(frame); err != nil {
		m.logger.Warn("failed to send control frame", "method", method, "topic", topic, "error", err)
	}
}

// closeLocked tears down the connection and any pending reconnect.
func (m *Multiplexer) closeLocked() {
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.conn != nil {
		m.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		m.conn.Close()
		m.conn = nil
	}
	for _, ts := range m.topics {
		ts.active = false
	}
	m.state = StateDisconnected
	m.attempt = 0
	metrics.StreamConnected.Set(0)
}

// watchdog force-closes the connection when the feed goes silent for longer
// than the data timeout while topics are active. The socket may still report
// open; a stalled feed is treated the same as a dead one.
func (m *Multiplexer) watchdog() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.watchdogStop:
			return
		case <-ticker.C:
			m.mu.Lock()
			silent := time.Since(m.lastFrame)
			stale := m.state == StateConnected && len(m.topics) > 0 && silent > m.cfg.DataTimeout
			conn := m.conn
			m.mu.Unlock()

			if stale && conn != nil {
				m.logger.Warn("no stream data within timeout, forcing reconnect",
					"silent", silent,
					"timeout", m.cfg.DataTimeout,
				)
				// Unblocks the read loop, which enters the reconnect path.
				conn.Close()
			}
		}
	}
}
