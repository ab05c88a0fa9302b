package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/anchor/internal/config"
	"github.com/allaspectsdev/anchor/internal/metrics"
	"github.com/allaspectsdev/anchor/internal/proxy"
	"github.com/allaspectsdev/anchor/internal/tokenizer"
	"github.com/allaspectsdev/anchor/internal/tracing"
	"github.com/allaspectsdev/anchor/internal/upstream"
	"github.com/allaspectsdev/anchor/internal/vault"
	"github.com/allaspectsdev/anchor/internal/version"
)

const (
	logFilename     = "anchor.log"
	shutdownTimeout = 30 * time.Second
)

// Run starts the gateway and, when enabled, the metrics listener, then blocks
// until SIGINT/SIGTERM or a fatal server error.
func Run(cfg *config.Config, foreground bool) error {
	dataDir := config.ExpandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logFile, err := setupLogging(cfg.Server.LogLevel, dataDir, foreground, os.Stdout)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info().
		Str("version", version.Version).
		Str("commit", version.GitCommit).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("anchor starting")

	if err := AcquirePID(dataDir); err != nil {
		return err
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	if watcher := startWatcher(dataDir); watcher != nil {
		defer watcher.Close()
	}

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing, cfg.Upstream.Model)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Error().Err(err).Msg("tracing shutdown error")
			}
		}()
		log.Info().Str("exporter", cfg.Tracing.Exporter).Str("endpoint", cfg.Tracing.Endpoint).Msg("tracing enabled")
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	gateway := NewGateway(cfg, vault.New(), collector, upstream.WithTokenizer(tokenizer.New()))

	errCh := make(chan error, 2)
	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", gateway.Addr()).Msg("gateway server starting (TLS)")
			errCh <- gateway.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			return
		}
		log.Info().Str("addr", gateway.Addr()).Msg("gateway server starting")
		errCh <- gateway.Start()
	}()

	var metricsServer *metrics.Server
	if collector != nil {
		metricsServer = metrics.NewServer(collector, fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort))
		go func() {
			errCh <- metricsServer.Start()
		}()
	}

	log.Info().
		Int("port", cfg.Server.Port).
		Bool("metrics", collector != nil).
		Bool("tls", cfg.Server.TLSEnabled).
		Str("model", cfg.Upstream.Model).
		Msg("anchor is ready")

	if foreground {
		scheme := "http"
		if cfg.Server.TLSEnabled {
			scheme = "https"
		}
		fmt.Printf("\n  anchor is running!\n")
		fmt.Printf("  Gateway: %s://localhost:%d%s%s\n", scheme, cfg.Server.Port, cfg.Routing.ProxyPrefix, cfg.Routing.ReplyRoute)
		if collector != nil {
			fmt.Printf("  Metrics: http://localhost:%d/metrics\n", cfg.Server.MetricsPort)
		}
		fmt.Println()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		// Start only returns nil after Shutdown, which has not happened yet.
		if err == nil {
			err = errors.New("server exited unexpectedly")
		}
		log.Error().Err(err).Msg("fatal server error")
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Msg("shutting down servers...")
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway server shutdown error")
	}

	log.Info().Msg("anchor stopped")
	return runErr
}

// NewGateway wires the upstream adapter, router and HTTP server from cfg.
// The credential is resolved through v on every reply.
func NewGateway(cfg *config.Config, v *vault.Vault, collector *metrics.Collector, opts ...upstream.Option) *proxy.Server {
	opts = append([]upstream.Option{upstream.WithMetrics(collector)}, opts...)
	adapter := upstream.NewAdapter(
		upstream.SettingsFromConfig(cfg.Upstream),
		vault.NewKeyRefSource(v, cfg.Upstream.KeyRef),
		opts...,
	)
	router := proxy.NewRouter(adapter, cfg.Routing, cfg.Assistant)
	return proxy.NewServer(router, cfg, collector)
}

// setupLogging points the global zerolog logger at dataDir/anchor.log and,
// in foreground mode, a console writer on console.
func setupLogging(level, dataDir string, foreground bool, console io.Writer) (io.Closer, error) {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	logPath := filepath.Join(dataDir, logFilename)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	writers := []io.Writer{logFile}
	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Str("service", version.AppName).Logger()
	return logFile, nil
}

// startWatcher hot-reloads the log level when the config file changes. It
// returns nil when there is no file to watch.
func startWatcher(dataDir string) *config.Watcher {
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	if _, err := os.Stat(configFile); err != nil {
		return nil
	}

	w, err := config.Watch(configFile)
	if err != nil {
		log.Warn().Err(err).Msg("failed to start config watcher; continuing without hot-reload")
		return nil
	}
	w.OnChange(applyReload)
	log.Info().Str("file", configFile).Msg("config watcher started")
	return w
}

// applyReload applies what can change while running and flags the rest.
func applyReload(change config.Change) {
	if change.LogLevelChanged() {
		zerolog.SetGlobalLevel(parseLogLevel(change.New.Server.LogLevel))
		log.Info().
			Str("from", change.Old.Server.LogLevel).
			Str("to", change.New.Server.LogLevel).
			Msg("log level updated")
	}
	if pending := change.RestartRequired(); len(pending) > 0 {
		log.Warn().Strs("sections", pending).Msg("config changes take effect after restart")
	}
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := config.ExpandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("anchor does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("anchor is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to anchor (PID %d)\n", pid)

	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return fmt.Errorf("anchor (PID %d) did not exit within %s", pid, shutdownTimeout)
}

// Status reports whether the daemon is running and, if so, queries its
// health route.
func Status() error {
	cfg := config.Get()
	dataDir := config.ExpandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("anchor is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("anchor is running (PID %d)\n", pid)

	health, err := fetchHealth(statusURL(cfg))
	if err != nil {
		fmt.Printf("  (gateway unreachable: %v)\n", err)
		return nil
	}

	fmt.Printf("\n  App:      %s\n", health.App)
	fmt.Printf("  Version:  %s\n", health.Version)
	fmt.Printf("  Time:     %s\n", health.TS)
	fmt.Printf("  Model:    %s\n", cfg.Upstream.Model)
	return nil
}

type healthReport struct {
	OK      bool   `json:"ok"`
	App     string `json:"app"`
	Version string `json:"version"`
	TS      string `json:"ts"`
}

func statusURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}
	host := cfg.Server.BindAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, cfg.Server.Port, cfg.Routing.HealthRoute)
}

func fetchHealth(url string) (*healthReport, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned status %d", resp.StatusCode)
	}

	var h healthReport
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	if !h.OK {
		return nil, errors.New("health reported not ok")
	}
	return &h, nil
}

// parseLogLevel converts a config log level to a zerolog.Level, defaulting
// to info.
func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}
