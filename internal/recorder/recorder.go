package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/trade-gateway/internal/metrics"
)

// Config holds recorder configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch (default: 500)
	FlushInterval time.Duration // Max time a row waits in the batch (default: 1s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// eventRow is one persisted engine event.
type eventRow struct {
	ID         string
	EventType  string
	Payload    []byte
	ReceivedAt time.Time
}

// Recorder batches engine events and writes them to the engine_events table.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	db *pgxpool.Pool

	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Recorder writing to the given pool.
func New(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("event recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the recorder down and flushes whatever is still batched.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping event recorder")

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("event recorder stop timed out")
	}

	// Final flush
	r.flush()

	return nil
}

// Record queues one event for persistence. Safe to call from the bridge
// emitter goroutine; the payload is copied.
func (r *Recorder) Record(eventType string, payload json.RawMessage) {
	row := eventRow{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: time.Now().UTC(),
	}

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// Pending returns how many rows are waiting for the next flush.
func (r *Recorder) Pending() int {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return len(r.batch)
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

// flush writes the current batch to the database. A failed insert drops the
// batch; events are market telemetry, not a ledger, and blocking the
// emitter on a sick database is worse than the gap.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	if r.db == nil {
		metrics.RecorderDropped.Add(float64(len(batch)))
		return
	}

	start := time.Now()

	if err := r.batchInsert(batch); err != nil {
		r.logger.Error("event batch insert failed", "error", err, "count", len(batch))
		metrics.RecorderErrors.Inc()
		metrics.RecorderDropped.Add(float64(len(batch)))
		return
	}

	metrics.RecorderInserts.Add(float64(len(batch)))

	r.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO engine_events (id, event_type, payload, received_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.EventType, row.Payload, row.ReceivedAt)
	}

	// The final flush runs after cancel, so fall back to a fresh context.
	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
