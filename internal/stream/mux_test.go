package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/trade-gateway/internal/backoff"
)

// feedServer is a mock combined-stream server. It records every control
// frame and can push data frames to the most recent connection.
type feedServer struct {
	t      *testing.T
	server *httptest.Server

	frames chan controlFrame
	conns  int32

	mu     sync.Mutex
	conn   *websocket.Conn
	closed chan struct{} // closed when the current connection's read loop exits
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()

	fs := &feedServer{
		t:      t,
		frames: make(chan controlFrame, 64),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		atomic.AddInt32(&fs.conns, 1)

		closed := make(chan struct{})
		fs.mu.Lock()
		fs.conn = conn
		fs.closed = closed
		fs.mu.Unlock()

		defer conn.Close()
		defer close(closed)
		for {
			var frame controlFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fs.frames <- frame
		}
	}))

	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

// push sends a data frame for topic to the current connection.
func (fs *feedServer) push(topic string, data string) {
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	if conn == nil {
		fs.t.Fatal("push: no connection")
	}
	msg := `{"stream":"` + topic + `","data":` + data + `}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		fs.t.Logf("push failed: %v", err)
	}
}

// dropConn closes the current connection from the server side.
func (fs *feedServer) dropConn() {
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// waitFrame waits for the next control frame.
func (fs *feedServer) waitFrame(timeout time.Duration) (controlFrame, bool) {
	select {
	case frame := <-fs.frames:
		return frame, true
	case <-time.After(timeout):
		return controlFrame{}, false
	}
}

// waitClosed waits for the current connection to be torn down.
func (fs *feedServer) waitClosed(timeout time.Duration) bool {
	fs.mu.Lock()
	closed := fs.closed
	fs.mu.Unlock()
	if closed == nil {
		return false
	}
	select {
	case <-closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (fs *feedServer) connCount() int {
	return int(atomic.LoadInt32(&fs.conns))
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Backoff = backoff.Policy{Base: 20 * time.Millisecond, Factor: 2.0, Cap: 100 * time.Millisecond}
	cfg.HealthCheckInterval = 20 * time.Millisecond
	cfg.DataTimeout = time.Hour // watchdog inert unless a test tightens it
	return cfg
}

func TestMultiplexer_SharedSubscription(t *testing.T) {
	fs := newFeedServer(t)
	m := NewMultiplexer(testConfig(fs.url()), nil)
	defer m.Destroy()

	received1 := make(chan json.RawMessage, 1)
	received2 := make(chan json.RawMessage, 1)

	unsub1 := m.Subscribe("btcusdt@kline_5m", func(data json.RawMessage) {
		received1 <- data
	})
	unsub2 := m.Subscribe("btcusdt@kline_5m", func(data json.RawMessage) {
		received2 <- data
	})

	// Exactly one SUBSCRIBE for two consumers of the same topic.
	frame, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("no SUBSCRIBE frame received")
	}
	if frame.Method != methodSubscribe {
		t.Errorf("Method = %q, want %q", frame.Method, methodSubscribe)
	}
	if len(frame.Params) != 1 || frame.Params[0] != "btcusdt@kline_5m" {
		t.Errorf("Params = %v, want [btcusdt@kline_5m]", frame.Params)
	}
	if extra, ok := fs.waitFrame(100 * time.Millisecond); ok {
		t.Errorf("unexpected extra frame: %+v", extra)
	}

	// Both callbacks get the same data frame.
	fs.push("btcusdt@kline_5m", `{"k":{"c":"43000.1"}}`)
	for i, ch := range []chan json.RawMessage{received1, received2} {
		select {
		case data := <-ch:
			if !strings.Contains(string(data), "43000.1") {
				t.Errorf("callback %d got %s", i+1, data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("callback %d never received data", i+1)
		}
	}

	// Dropping one subscriber keeps the upstream subscription.
	unsub1()
	if frame, ok := fs.waitFrame(100 * time.Millisecond); ok {
		t.Errorf("unexpected frame after first unsubscribe: %+v", frame)
	}
	if !m.IsConnected() {
		t.Error("expected connection to stay up with one subscriber left")
	}

	// Dropping the last subscriber unsubscribes and closes the connection.
	unsub2()
	frame, ok = fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("no UNSUBSCRIBE frame received")
	}
	if frame.Method != methodUnsubscribe {
		t.Errorf("Method = %q, want %q", frame.Method, methodUnsubscribe)
	}
	if !fs.waitClosed(2 * time.Second) {
		t.Error("connection not closed after last unsubscribe")
	}
	if m.TopicCount() != 0 {
		t.Errorf("TopicCount = %d, want 0", m.TopicCount())
	}
}

func TestMultiplexer_UnsubscribeTwiceIsNoop(t *testing.T) {
	fs := newFeedServer(t)
	m := NewMultiplexer(testConfig(fs.url()), nil)
	defer m.Destroy()

	unsub := m.Subscribe("ethusdt@ticker", func(json.RawMessage) {})
	if _, ok := fs.waitFrame(2 * time.Second); !ok {
		t.Fatal("no SUBSCRIBE frame received")
	}

	unsub()
	unsub()
	unsub()

	frame, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("no UNSUBSCRIBE frame received")
	}
	if frame.Method != methodUnsubscribe {
		t.Errorf("Method = %q, want %q", frame.Method, methodUnsubscribe)
	}
	if extra, ok := fs.waitFrame(100 * time.Millisecond); ok {
		t.Errorf("repeated unsubscribe sent extra frame: %+v", extra)
	}
}

func TestMultiplexer_CallbackPanicDoesNotBlockSiblings(t *testing.T) {
	fs := newFeedServer(t)
	m := NewMultiplexer(testConfig(fs.url()), nil)
	defer m.Destroy()

	received := make(chan json.RawMessage, 2)

	m.Subscribe("btcusdt@trade", func(json.RawMessage) {
		panic("consumer bug")
	})
	m.Subscribe("btcusdt@trade", func(data json.RawMessage) {
		received <- data
	})

	if _, ok := fs.waitFrame(2 * time.Second); !ok {
		t.Fatal("no SUBSCRIBE frame received")
	}

	fs.push("btcusdt@trade", `{"p":"1"}`)
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("second callback never received data after sibling panicked")
	}

	// The connection survives the panic too.
	fs.push("btcusdt@trade", `{"p":"2"}`)
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive a panicking callback")
	}
}

func TestMultiplexer_ReconnectResubscribesAllTopics(t *testing.T) {
	fs := newFeedServer(t)
	m := NewMultiplexer(testConfig(fs.url()), nil)
	defer m.Destroy()

	topics := []string{"btcusdt@kline_5m", "ethusdt@kline_5m", "solusdt@ticker"}
	for _, topic := range topics {
		m.Subscribe(topic, func(json.RawMessage) {})
	}

	// Drain initial SUBSCRIBEs.
	initial := make(map[string]int)
	for range topics {
		frame, ok := fs.waitFrame(2 * time.Second)
		if !ok {
			t.Fatal("missing initial SUBSCRIBE frame")
		}
		initial[frame.Params[0]]++
	}
	for _, topic := range topics {
		if initial[topic] != 1 {
			t.Errorf("initial SUBSCRIBE count for %s = %d, want 1", topic, initial[topic])
		}
	}

	fs.dropConn()

	// After reconnect every topic is re-subscribed exactly once.
	resub := make(map[string]int)
	for range topics {
		frame, ok := fs.waitFrame(5 * time.Second)
		if !ok {
			t.Fatal("missing re-SUBSCRIBE frame after reconnect")
		}
		if frame.Method != methodSubscribe {
			t.Errorf("Method = %q, want %q", frame.Method, methodSubscribe)
		}
		resub[frame.Params[0]]++
	}
	for _, topic := range topics {
		if resub[topic] != 1 {
			t.Errorf("re-SUBSCRIBE count for %s = %d, want 1", topic, resub[topic])
		}
	}
	if extra, ok := fs.waitFrame(100 * time.Millisecond); ok {
		t.Errorf("unexpected extra frame after resubscribe: %+v", extra)
	}
	if fs.connCount() != 2 {
		t.Errorf("connection count = %d, want 2", fs.connCount())
	}
}

func TestMultiplexer_WatchdogForcesReconnect(t *testing.T) {
	fs := newFeedServer(t)
	cfg := testConfig(fs.url())
	cfg.HealthCheckInterval = 20 * time.Millisecond
	cfg.DataTimeout = 50 * time.Millisecond
	m := NewMultiplexer(cfg, nil)
	defer m.Destroy()

	m.Subscribe("btcusdt@depth", func(json.RawMessage) {})
	if _, ok := fs.waitFrame(2 * time.Second); !ok {
		t.Fatal("no SUBSCRIBE frame received")
	}

	// Send nothing: the watchdog must force-close the silent connection and
	// a second connection must appear with a fresh SUBSCRIBE.
	frame, ok := fs.waitFrame(5 * time.Second)
	if !ok {
		t.Fatal("watchdog never forced a reconnect")
	}
	if frame.Method != methodSubscribe || frame.Params[0] != "btcusdt@depth" {
		t.Errorf("unexpected frame after watchdog reconnect: %+v", frame)
	}
	if fs.connCount() < 2 {
		t.Errorf("connection count = %d, want >= 2", fs.connCount())
	}
}

func TestMultiplexer_DestroyPreventsReconnect(t *testing.T) {
	fs := newFeedServer(t)
	m := NewMultiplexer(testConfig(fs.url()), nil)

	m.Subscribe("btcusdt@kline_1m", func(json.RawMessage) {})
	if _, ok := fs.waitFrame(2 * time.Second); !ok {
		t.Fatal("no SUBSCRIBE frame received")
	}

	m.Destroy()
	m.Destroy() // idempotent

	fs.dropConn()
	time.Sleep(300 * time.Millisecond)

	if fs.connCount() != 1 {
		t.Errorf("connection count after destroy = %d, want 1", fs.connCount())
	}
	if m.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", m.State())
	}

	// Subscribing after destroy is a no-op that returns a safe closure.
	unsub := m.Subscribe("ethusdt@ticker", func(json.RawMessage) {})
	unsub()
	if fs.connCount() != 1 {
		t.Errorf("subscribe after destroy opened a connection")
	}
}

func TestMultiplexer_ZeroDurationsBackfilled(t *testing.T) {
	m := NewMultiplexer(Config{URL: "ws://127.0.0.1:1"}, nil)
	defer m.Destroy()

	def := DefaultConfig()
	if m.cfg.HandshakeTimeout != def.HandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v, want %v", m.cfg.HandshakeTimeout, def.HandshakeTimeout)
	}
	if m.cfg.HealthCheckInterval != def.HealthCheckInterval {
		t.Errorf("HealthCheckInterval = %v, want %v", m.cfg.HealthCheckInterval, def.HealthCheckInterval)
	}
	if m.cfg.DataTimeout != def.DataTimeout {
		t.Errorf("DataTimeout = %v, want %v", m.cfg.DataTimeout, def.DataTimeout)
	}
	if m.cfg.WriteTimeout != def.WriteTimeout {
		t.Errorf("WriteTimeout = %v, want %v", m.cfg.WriteTimeout, def.WriteTimeout)
	}
}

func TestMultiplexer_FrameIDsMonotonic(t *testing.T) {
	fs := newFeedServer(t)
	m := NewMultiplexer(testConfig(fs.url()), nil)
	defer m.Destroy()

	m.Subscribe("a@ticker", func(json.RawMessage) {})
	m.Subscribe("b@ticker", func(json.RawMessage) {})

	first, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("missing first frame")
	}
	second, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("missing second frame")
	}
	if second.ID <= first.ID {
		t.Errorf("frame IDs not monotonic: %d then %d", first.ID, second.ID)
	}
}

func TestMultiplexer_AckFramesIgnored(t *testing.T) {
	fs := newFeedServer(t)
	m := NewMultiplexer(testConfig(fs.url()), nil)
	defer m.Destroy()

	received := make(chan json.RawMessage, 1)
	m.Subscribe("btcusdt@ticker", func(data json.RawMessage) {
		received <- data
	})
	if _, ok := fs.waitFrame(2 * time.Second); !ok {
		t.Fatal("no SUBSCRIBE frame received")
	}

	// Ack frame (no stream field) must be dropped silently.
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))

	fs.push("btcusdt@ticker", `{"c":"100"}`)
	select {
	case data := <-received:
		if !strings.Contains(string(data), "100") {
			t.Errorf("got %s, want the data frame payload", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("data frame not delivered after ack frame")
	}
}
