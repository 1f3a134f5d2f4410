package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rickgao/trade-gateway/internal/backoff"
	"github.com/rickgao/trade-gateway/internal/metrics"
)

// Config holds supervisor configuration.
type Config struct {
	Command      string            // Engine binary or script to run
	Args         []string          // Arguments passed to the command
	WorkDir      string            // Working directory ("" inherits the gateway's)
	Env          map[string]string // Extra environment on top of the gateway's
	ListenHost   string            // API address the engine should bind, exported as env
	ListenPort   int
	GraceTimeout time.Duration // SIGTERM grace before SIGKILL (default: 5s)
	Backoff      backoff.Policy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		GraceTimeout: 5 * time.Second,
		Backoff:      backoff.Policy{Base: time.Second, Factor: 2.0, Cap: 30 * time.Second},
	}
}

// Supervisor owns the engine child process lifecycle.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	enabled  bool
	stopping bool
	killed   bool
	cmd      *exec.Cmd
	exited   chan struct{}
	attempt  int
	retry    *time.Timer
}

// New creates a Supervisor. Nothing runs until Start.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = 5 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
	}
}

// Start spawns the engine and enables the restart policy. Calling Start on
// an already started supervisor is a no-op.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		return nil
	}
	s.enabled = true
	s.attempt = 0

	s.spawnLocked()
	return nil
}

// Stop disables restarts and shuts the engine down. The process gets
// SIGTERM first; if it has not exited after the grace timeout it is killed.
// Stop is safe to call concurrently and on a never-started supervisor.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.enabled = false
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}

	cmd := s.cmd
	exited := s.exited
	alreadyStopping := s.stopping
	if cmd != nil {
		s.stopping = true
	}
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if !alreadyStopping {
		s.logger.Info("stopping engine", "pid", cmd.Process.Pid)
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Process already gone; the wait goroutine will close exited.
			s.logger.Debug("signal failed", "err", err)
		}
	}

	grace := time.NewTimer(s.cfg.GraceTimeout)
	defer grace.Stop()

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
	}

	// Same one-signal guard as SIGTERM: concurrent Stop calls race to the
	// grace timer, only one escalates.
	s.mu.Lock()
	alreadyKilled := s.killed
	s.killed = true
	s.mu.Unlock()

	if !alreadyKilled {
		s.logger.Warn("engine did not exit in time, killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the engine process is currently alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Pid returns the engine process ID, or 0 when nothing is running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// spawnLocked starts one engine process. A spawn failure counts as a crash
// and goes through the same restart path as an exit. Caller holds mu.
func (s *Supervisor) spawnLocked() {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.buildEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.handleSpawnErrorLocked(err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.handleSpawnErrorLocked(err)
		return
	}

	if err := cmd.Start(); err != nil {
		s.handleSpawnErrorLocked(err)
		return
	}

	s.cmd = cmd
	s.exited = make(chan struct{})
	s.stopping = false
	s.killed = false
	metrics.EngineRunning.Set(1)

	s.logger.Info("engine started",
		"pid", cmd.Process.Pid,
		"command", s.cfg.Command,
	)

	// Wait must not run until both forwarders hit EOF: Wait closes the
	// pipes, and a trailing unterminated line would be lost in the race.
	var forwarders sync.WaitGroup
	forwarders.Add(2)
	go func() {
		defer forwarders.Done()
		s.forwardOutput(stdout, "stdout")
	}()
	go func() {
		defer forwarders.Done()
		s.forwardOutput(stderr, "stderr")
	}()
	go s.wait(cmd, s.exited, &forwarders)
}

func (s *Supervisor) handleSpawnErrorLocked(err error) {
	s.logger.Error("failed to start engine",
		"command", s.cfg.Command,
		"err", err,
	)
	s.scheduleRestartLocked()
}

// wait blocks until the process exits and decides what happens next. The
// forwarders finish first, so final output is fully drained before the
// pipes close.
func (s *Supervisor) wait(cmd *exec.Cmd, exited chan struct{}, forwarders *sync.WaitGroup) {
	forwarders.Wait()
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != cmd {
		close(exited)
		return
	}
	s.cmd = nil
	s.exited = nil
	metrics.EngineRunning.Set(0)
	close(exited)

	code := cmd.ProcessState.ExitCode()
	if err == nil {
		// Clean exit resets the backoff but still triggers a respawn
		// while the supervisor is enabled. An engine that stops itself
		// is brought back, same as a crashed one.
		s.logger.Info("engine exited cleanly", "pid", cmd.Process.Pid)
		s.attempt = 0
	} else {
		s.logger.Warn("engine exited",
			"pid", cmd.Process.Pid,
			"code", code,
			"err", err,
		)
	}

	if !s.enabled || s.stopping {
		return
	}
	s.scheduleRestartLocked()
}

// scheduleRestartLocked arms the restart timer with the current backoff
// delay. Caller holds mu.
func (s *Supervisor) scheduleRestartLocked() {
	delay := s.cfg.Backoff.Delay(s.attempt)
	s.attempt++
	metrics.EngineRestarts.Inc()

	s.logger.Info("restarting engine",
		"delay", delay,
		"attempt", s.attempt,
	)

	s.retry = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.retry = nil
		if !s.enabled || s.cmd != nil {
			return
		}
		s.spawnLocked()
	})
}

// forwardOutput copies one process stream into the gateway log, one line
// per record. A trailing partial line is still forwarded when the stream
// closes.
func (s *Supervisor) forwardOutput(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if stream == "stderr" {
			s.logger.Warn("engine: "+line, "stream", stream)
		} else {
			s.logger.Info("engine: "+line, "stream", stream)
		}
	}
}

// buildEnv merges the gateway environment with the configured overrides and
// exports the API address the engine should bind.
func (s *Supervisor) buildEnv() []string {
	env := os.Environ()

	extra := make(map[string]string, len(s.cfg.Env)+2)
	for k, v := range s.cfg.Env {
		extra[k] = v
	}
	if s.cfg.ListenHost != "" {
		extra["ENGINE_API_HOST"] = s.cfg.ListenHost
	}
	if s.cfg.ListenPort > 0 {
		extra["ENGINE_API_PORT"] = fmt.Sprintf("%d", s.cfg.ListenPort)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
