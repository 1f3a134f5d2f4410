package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !strings.HasPrefix(c.Market.WSURL, "ws://") && !strings.HasPrefix(c.Market.WSURL, "wss://") {
		return fmt.Errorf("market.ws_url must be a ws:// or wss:// URL, got %q", c.Market.WSURL)
	}
	if c.Market.ReconnectBaseDelay > c.Market.ReconnectMaxDelay {
		return errors.New("market.reconnect_base_delay cannot exceed market.reconnect_max_delay")
	}
	if c.Market.DataTimeout < c.Market.HealthCheckInterval {
		return errors.New("market.data_timeout must be >= market.health_check_interval")
	}

	if c.Engine.Command == "" {
		return errors.New("engine.command is required")
	}
	if c.Engine.Port < 1 || c.Engine.Port > 65535 {
		return fmt.Errorf("engine.port must be between 1 and 65535, got %d", c.Engine.Port)
	}
	if c.Engine.RestartBaseDelay > c.Engine.RestartMaxDelay {
		return errors.New("engine.restart_base_delay cannot exceed engine.restart_max_delay")
	}

	if c.Bridge.ReconnectGrowth < 1 {
		return fmt.Errorf("bridge.reconnect_growth must be >= 1, got %v", c.Bridge.ReconnectGrowth)
	}

	if c.Recorder.Database.Host != "" {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
