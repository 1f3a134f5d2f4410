package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/trade-gateway/internal/backoff"
	"github.com/rickgao/trade-gateway/internal/bridge"
	"github.com/rickgao/trade-gateway/internal/config"
	"github.com/rickgao/trade-gateway/internal/database"
	"github.com/rickgao/trade-gateway/internal/recorder"
	"github.com/rickgao/trade-gateway/internal/stream"
	"github.com/rickgao/trade-gateway/internal/supervisor"
	"github.com/rickgao/trade-gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"market_ws", cfg.Market.WSURL,
		"engine_command", cfg.Engine.Command,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// The engine endpoint is read from config exactly once and handed to
	// both the supervisor (which tells the engine where to bind) and the
	// bridge (which connects to it).
	endpoint := bridge.Endpoint{Host: cfg.Engine.Host, Port: cfg.Engine.Port}

	// Optional event recorder, wired only when a database is configured.
	var rec *recorder.Recorder
	if cfg.Recorder.Database.Host != "" {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"database", cfg.Recorder.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, pool, logger)
		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	}

	// Engine process supervisor
	sup := supervisor.New(supervisor.Config{
		Command:      cfg.Engine.Command,
		Args:         cfg.Engine.Args,
		WorkDir:      cfg.Engine.WorkDir,
		Env:          cfg.Engine.Env,
		ListenHost:   endpoint.Host,
		ListenPort:   endpoint.Port,
		GraceTimeout: cfg.Engine.GraceTimeout,
		Backoff: backoff.Policy{
			Base:   cfg.Engine.RestartBaseDelay,
			Factor: 2.0,
			Cap:    cfg.Engine.RestartMaxDelay,
		},
	}, logger)

	if err := sup.Start(); err != nil {
		logger.Error("failed to start engine supervisor", "error", err)
		os.Exit(1)
	}

	// Bridge to the engine's event stream
	bridgeClient := bridge.NewClient(bridge.Config{
		EventsPath:  cfg.Bridge.EventsPath,
		ControlPath: cfg.Bridge.ControlPath,
		Backoff: backoff.Policy{
			Base:   cfg.Bridge.ReconnectBaseDelay,
			Factor: cfg.Bridge.ReconnectGrowth,
			Cap:    cfg.Bridge.ReconnectMaxDelay,
		},
		CommandTimeout: cfg.Bridge.CommandTimeout,
	}, endpoint, logger)

	bridgeClient.Start(func(eventType string, payload json.RawMessage) {
		logger.Info("engine event", "type", eventType)
		if rec != nil {
			rec.Record(eventType, payload)
		}
	})

	// Shared market data stream
	mux := stream.NewMultiplexer(stream.Config{
		URL: cfg.Market.WSURL,
		Backoff: backoff.Policy{
			Base:   cfg.Market.ReconnectBaseDelay,
			Factor: 2.0,
			Cap:    cfg.Market.ReconnectMaxDelay,
		},
		HealthCheckInterval: cfg.Market.HealthCheckInterval,
		DataTimeout:         cfg.Market.DataTimeout,
		WriteTimeout:        cfg.Market.WriteTimeout,
	}, logger)

	for _, topic := range cfg.Market.Topics {
		topic := topic
		mux.Subscribe(topic, func(data json.RawMessage) {
			logger.Debug("market frame", "topic", topic, "bytes", len(data))
		})
	}

	// Metrics and health server
	healthPort := 9090
	if cfg.Metrics.Port > 0 {
		healthPort = cfg.Metrics.Port
	}
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(metricsPath, mux, bridgeClient, sup),
	}

	go func() {
		logger.Info("starting health server", "port", healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"engine_endpoint", endpoint.String(),
		"topics", len(cfg.Market.Topics),
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	// Stop taking new data first, then the engine, then the sinks.
	mux.Destroy()
	bridgeClient.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown incomplete", "error", err)
	}
	if rec != nil {
		rec.Stop(shutdownCtx)
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("gateway stopped")
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(metricsPath string, mux *stream.Multiplexer, bc *bridge.Client, sup *supervisor.Supervisor) http.Handler {
	h := http.NewServeMux()

	h.Handle(metricsPath, promhttp.Handler())

	h.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		health.Components["market_stream"] = map[string]interface{}{
			"state":  mux.State().String(),
			"topics": mux.TopicCount(),
		}
		if mux.TopicCount() > 0 && !mux.IsConnected() {
			health.Status = "degraded"
		}

		health.Components["bridge"] = map[string]interface{}{
			"connected": bc.IsConnected(),
		}
		if !bc.IsConnected() {
			health.Status = "degraded"
		}

		health.Components["engine"] = map[string]interface{}{
			"running": sup.IsRunning(),
			"pid":     sup.Pid(),
		}
		if !sup.IsRunning() {
			health.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return h
}
