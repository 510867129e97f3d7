package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sadewadee/dmq/internal/config"
	"github.com/sadewadee/dmq/internal/metrics"
	"github.com/sadewadee/dmq/internal/rpc"
	"github.com/sadewadee/dmq/internal/server"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve", "start":
		serve()
	case "version":
		fmt.Printf("dmqd v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serve() {
	cfgPath := "dmq.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	logger, startupCloser := setupLogger("info", "json", "stdout")
	if startupCloser != nil {
		defer startupCloser.Close()
	}
	logger.Info("dmqd starting", "version", version)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if startupCloser != nil {
		_ = startupCloser.Close()
		startupCloser = nil
	}
	logger, logCloser := setupLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if logCloser != nil {
		defer logCloser.Close()
	}

	registry := metrics.New(nil, nil)
	verifier := newAuthVerifier(cfg)

	srv := server.New(cfg, logger, registry, verifier, registerDemoServices)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	registry.SetPostmaster(srv.Postmaster())

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg, registry, logger)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGUSR1)
	go func() {
		for range reload {
			logger.Info("SIGUSR1 received, reloading auth verifier")
			verifier = newAuthVerifier(cfg)
		}
	}()

	logger.Info("dmqd ready", "address", fmt.Sprintf("%s:%d", cfg.Server.IP, cfg.Server.Port), "transport", cfg.Server.Transport)

	<-quit
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("dmqd stopped")
}

// newAuthVerifier builds the handshake Verifier (§4.10) from static
// configuration. A production deployment would look credentials up in an
// external store; this repo's scope stops at the pluggable interface.
func newAuthVerifier(cfg *config.Config) rpc.Verifier {
	if !cfg.Auth.RequireAuthentication {
		return nil
	}
	return func(authData []byte) bool {
		return len(authData) > 0
	}
}

// registerDemoServices installs the Calculator service used by §8's
// end-to-end scenarios (Add, and a cancellable LongRunning method) on
// every accepted connection's endpoint.
func registerDemoServices(e *rpc.Endpoint) {
	e.RegisterMethod("Calculator", "Add", func(_ context.Context, call *rpc.Call) (interface{}, error) {
		var a, b int
		if err := call.Arg(0, &a); err != nil {
			return nil, err
		}
		if err := call.Arg(1, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})

	e.RegisterMethod("Calculator", "LongRunning", func(ctx context.Context, call *rpc.Call) (interface{}, error) {
		var a, b int
		if err := call.Arg(0, &a); err != nil {
			return nil, err
		}
		if err := call.Arg(1, &b); err != nil {
			return nil, err
		}
		select {
		case <-time.After(5 * time.Second):
			return a + b, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func startMetricsServer(cfg *config.Config, registry *metrics.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, registry)
	mux.Handle("/healthz", metrics.NewHealthHandler(registry))
	mux.Handle("/readyz", metrics.NewHealthHandler(registry))

	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func setupLogger(level, format, output string) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writer, closer := resolveLogOutput(output)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), closer
}

func resolveLogOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stdout, nil
		}
		return f, f
	}
}

func printUsage() {
	fmt.Println(`dmqd - framed MQ transport + RPC daemon

Usage:
  dmqd <command> [options]

Commands:
  serve [config]   Start the server (default config: dmq.yaml)
  start [config]   Alias for serve
  version          Show version
  help             Show this help

Signals:
  SIGUSR1          Reload the auth verifier
  SIGINT/SIGTERM   Graceful shutdown

Examples:
  dmqd serve
  dmqd serve /etc/dmq/dmq.yaml
  dmqd version
  kill -USR1 $(pidof dmqd)   # Reload auth verifier`)
}
