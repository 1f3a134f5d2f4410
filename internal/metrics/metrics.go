package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream multiplexer metrics.
var (
	// StreamConnected is 1 while the shared market-data connection is up.
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "stream",
		Name:      "connected",
		Help:      "Whether the shared market-data connection is established",
	})

	// StreamFrames counts inbound data frames per topic.
	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Inbound market-data frames by topic",
	}, []string{"topic"})

	// StreamReconnects counts scheduled reconnect attempts.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts scheduled for the market-data connection",
	})

	// StreamCallbackPanics counts subscriber callbacks that panicked.
	StreamCallbackPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "stream",
		Name:      "callback_panics_total",
		Help:      "Subscriber callbacks recovered from a panic during dispatch",
	})
)

// Bridge client metrics.
var (
	// BridgeConnected is 1 while the engine event stream is up.
	BridgeConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "bridge",
		Name:      "connected",
		Help:      "Whether the engine event stream is established",
	})

	// BridgeEvents counts normalized events forwarded to the emitter.
	BridgeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "bridge",
		Name:      "events_total",
		Help:      "Normalized engine events by type",
	}, []string{"type"})

	// BridgeParseErrors counts inbound messages dropped as unparseable.
	BridgeParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "bridge",
		Name:      "parse_errors_total",
		Help:      "Engine messages dropped due to parse or translation failure",
	})

	// BridgeReconnects counts scheduled reconnect attempts.
	BridgeReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "bridge",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts scheduled for the engine event stream",
	})
)

// Process supervisor metrics.
var (
	// EngineRunning is 1 while the spawned engine process is alive.
	EngineRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "engine",
		Name:      "running",
		Help:      "Whether the supervised engine process is running",
	})

	// EngineRestarts counts respawns scheduled after an exit.
	EngineRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "engine",
		Name:      "restarts_total",
		Help:      "Engine process respawns scheduled by the supervisor",
	})
)

// Recorder metrics.
var (
	// RecorderInserts counts event rows written to the database.
	RecorderInserts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "recorder",
		Name:      "inserts_total",
		Help:      "Event rows inserted by the recorder",
	})

	// RecorderErrors counts failed batch flushes.
	RecorderErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "recorder",
		Name:      "errors_total",
		Help:      "Recorder batch flushes that failed",
	})

	// RecorderDropped counts events dropped on a full buffer.
	RecorderDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "recorder",
		Name:      "dropped_total",
		Help:      "Events dropped because the recorder buffer was full",
	})
)
