package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMarketWSURL         = "wss://stream.binance.com:9443/stream"
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 30 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultDataTimeout         = 60 * time.Second
	DefaultWriteTimeout        = 5 * time.Second

	DefaultEngineHost       = "127.0.0.1"
	DefaultEnginePort       = 8080
	DefaultGraceTimeout     = 5 * time.Second
	DefaultRestartBaseDelay = 1 * time.Second
	DefaultRestartMaxDelay  = 30 * time.Second

	DefaultEventsPath      = "/api/v1/message/ws"
	DefaultControlPath     = "/api/v1/control"
	DefaultBridgeBaseDelay = 2 * time.Second
	DefaultBridgeMaxDelay  = 30 * time.Second
	DefaultBridgeGrowth    = 1.5
	DefaultCommandTimeout  = 10 * time.Second

	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *GatewayConfig) applyDefaults() {
	// Market stream defaults
	if c.Market.WSURL == "" {
		c.Market.WSURL = DefaultMarketWSURL
	}
	if c.Market.ReconnectBaseDelay == 0 {
		c.Market.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Market.ReconnectMaxDelay == 0 {
		c.Market.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Market.HealthCheckInterval == 0 {
		c.Market.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Market.DataTimeout == 0 {
		c.Market.DataTimeout = DefaultDataTimeout
	}
	if c.Market.WriteTimeout == 0 {
		c.Market.WriteTimeout = DefaultWriteTimeout
	}

	// Engine defaults
	if c.Engine.Host == "" {
		c.Engine.Host = DefaultEngineHost
	}
	if c.Engine.Port == 0 {
		c.Engine.Port = DefaultEnginePort
	}
	if c.Engine.GraceTimeout == 0 {
		c.Engine.GraceTimeout = DefaultGraceTimeout
	}
	if c.Engine.RestartBaseDelay == 0 {
		c.Engine.RestartBaseDelay = DefaultRestartBaseDelay
	}
	if c.Engine.RestartMaxDelay == 0 {
		c.Engine.RestartMaxDelay = DefaultRestartMaxDelay
	}

	// Bridge defaults
	if c.Bridge.EventsPath == "" {
		c.Bridge.EventsPath = DefaultEventsPath
	}
	if c.Bridge.ControlPath == "" {
		c.Bridge.ControlPath = DefaultControlPath
	}
	if c.Bridge.ReconnectBaseDelay == 0 {
		c.Bridge.ReconnectBaseDelay = DefaultBridgeBaseDelay
	}
	if c.Bridge.ReconnectMaxDelay == 0 {
		c.Bridge.ReconnectMaxDelay = DefaultBridgeMaxDelay
	}
	if c.Bridge.ReconnectGrowth == 0 {
		c.Bridge.ReconnectGrowth = DefaultBridgeGrowth
	}
	if c.Bridge.CommandTimeout == 0 {
		c.Bridge.CommandTimeout = DefaultCommandTimeout
	}

	// Recorder defaults
	applyDBDefaults(&c.Recorder.Database)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
