package recorder

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestRecorder_RecordAddsToBatch(t *testing.T) {
	r := New(Config{BatchSize: 10, FlushInterval: time.Hour}, nil, nil)

	r.Record("trade_opened", json.RawMessage(`{"tradeId": 1}`))
	r.Record("trade_closed", json.RawMessage(`{"tradeId": 1}`))

	if got := r.Pending(); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}

	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	row := r.batch[0]
	if row.ID == "" {
		t.Error("row ID not assigned")
	}
	if row.EventType != "trade_opened" {
		t.Errorf("EventType = %q, want trade_opened", row.EventType)
	}
	if string(row.Payload) != `{"tradeId": 1}` {
		t.Errorf("Payload = %s", row.Payload)
	}
	if row.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
	if row.ID == r.batch[1].ID {
		t.Error("rows share an ID")
	}
}

func TestRecorder_PayloadCopied(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)

	buf := []byte(`{"a": 1}`)
	r.Record("warning", buf)
	buf[2] = 'x'

	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	if string(r.batch[0].Payload) != `{"a": 1}` {
		t.Errorf("payload aliased the caller's buffer: %s", r.batch[0].Payload)
	}
}

func TestRecorder_BatchSizeTriggersFlush(t *testing.T) {
	// No pool wired, so a triggered flush drops the rows instead of
	// inserting. The batch must still drain.
	r := New(Config{BatchSize: 3, FlushInterval: time.Hour}, nil, nil)

	for i := 0; i < 3; i++ {
		r.Record("warning", json.RawMessage(`{}`))
	}

	if got := r.Pending(); got != 0 {
		t.Errorf("Pending = %d after reaching batch size, want 0", got)
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	r := New(Config{BatchSize: 10, FlushInterval: 50 * time.Millisecond}, nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.Record("trade_opened", json.RawMessage(`{}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := r.Pending(); got != 0 {
		t.Errorf("Pending = %d after Stop, want 0 (final flush)", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
}
