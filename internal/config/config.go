package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Market   MarketConfig   `yaml:"market"`
	Engine   EngineConfig   `yaml:"engine"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Recorder RecorderConfig `yaml:"recorder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// MarketConfig holds the shared market-data stream settings.
type MarketConfig struct {
	WSURL               string        `yaml:"ws_url"`
	Topics              []string      `yaml:"topics"`
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	DataTimeout         time.Duration `yaml:"data_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
}

// EngineConfig holds settings for the locally-spawned execution engine.
//
// Host and Port form the engine endpoint. They are read once here and
// injected into both the process supervisor and the bridge client by the
// composition root, so the two components cannot drift apart.
type EngineConfig struct {
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	WorkDir          string            `yaml:"work_dir"`
	Env              map[string]string `yaml:"env"`
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	GraceTimeout     time.Duration     `yaml:"grace_timeout"`
	RestartBaseDelay time.Duration     `yaml:"restart_base_delay"`
	RestartMaxDelay  time.Duration     `yaml:"restart_max_delay"`
}

// BridgeConfig holds the engine event/control channel settings.
type BridgeConfig struct {
	EventsPath         string        `yaml:"events_path"`
	ControlPath        string        `yaml:"control_path"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	ReconnectGrowth    float64       `yaml:"reconnect_growth"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
}

// RecorderConfig holds the optional event recorder settings.
// The recorder is disabled when the database host is empty.
type RecorderConfig struct {
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
