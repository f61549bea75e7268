// Command remindq is the reminder daemon.
// It loads configuration, opens the reminder store, and serves the HTTP API
// while a dispatcher delivers due reminders.
//
// Usage:
//
//	remindq [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snehjoshi/remindq/internal/config"
	"github.com/snehjoshi/remindq/internal/dispatch"
	"github.com/snehjoshi/remindq/internal/metrics"
	"github.com/snehjoshi/remindq/internal/reminder"
	"github.com/snehjoshi/remindq/internal/store"
	transphttp "github.com/snehjoshi/remindq/internal/transport/http"
	"github.com/snehjoshi/remindq/internal/transport/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "remindq: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	slog.Info("remindq starting",
		"host", cfg.Node.Host,
		"port", cfg.Node.Port,
		"data_dir", cfg.Node.DataDir,
		"store", cfg.Storage.Driver,
	)

	// ── 3. Open the reminder store ───────────────────────────────────────────
	st, err := store.OpenDriver(store.Config{
		Driver: cfg.Storage.Driver,
		Dir:    cfg.Node.DataDir,
		Name:   cfg.Storage.Name,
		Fsync:  cfg.Storage.Sync(),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	// ── 4. Metrics registry ──────────────────────────────────────────────────
	metricsReg := &metrics.Registry{}

	// ── 5. Reminder service ──────────────────────────────────────────────────
	svc := reminder.New(st,
		reminder.WithLogger(logger),
		reminder.WithMetrics(metricsReg),
		reminder.WithMaxMessageBytes(cfg.Reminders.MaxMessageBytes),
		reminder.WithMaxScheduleAhead(cfg.MaxScheduleAhead()),
	)
	if err := svc.Initialize(); err != nil {
		return fmt.Errorf("init reminders: %w", err)
	}

	// ── 6. Delivery sinks + dispatcher ───────────────────────────────────────
	hub := websocket.NewHub(websocket.WithLogger(logger))
	sinks := []dispatch.Sink{dispatch.NewLogSink(logger), hub}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Secret,
			dispatch.WithTimeout(time.Duration(cfg.Webhook.TimeoutMs)*time.Millisecond),
			dispatch.WithRetryDelays(cfg.RetryDelays()),
		))
		slog.Info("webhook sink enabled", "url", cfg.Webhook.URL, "signed", cfg.Webhook.Secret != "")
	}
	disp := dispatch.New(svc, sinks, cfg.PollInterval(),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metricsReg),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		disp.Run(ctx)
	}()

	// ── 7. Start HTTP / WebSocket transport ──────────────────────────────────
	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metricsReg
	}
	srv := transphttp.New(svc, hub, cfg, reg)
	addr := fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("remindq ready", "addr", addr, "pending", svc.Pending())
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 8. Start dedicated Prometheus metrics listener ───────────────────────
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 && cfg.Metrics.Port != cfg.Node.Port {
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metricsReg.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 9. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	// Stop polling first so nothing is drained from the store mid-shutdown,
	// then let the sink workers flush what was already queued.
	cancel()
	<-dispDone

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()

	disp.Close(shutCtx)
	hub.Close()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}

	slog.Info("remindq stopped")
	return runErr
}

// newLogger builds the process logger from the log section. Validate has
// already checked level and format.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	level, _ := config.ParseLevel(lc.Level)
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
