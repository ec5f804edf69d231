// Command coordinator runs the cluster coordinator.
//
// Nodes and clients exchange XML messages with it over HTTP on the listen
// address. A second, private listener serves /health, /nodes and /metrics.
// Configuration comes from the YAML file named by SOLVEGRID_CONFIG, dotenv
// files and SOLVEGRID_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dreamware/solvegrid/internal/config"
	"github.com/dreamware/solvegrid/internal/coordinator"
	"github.com/dreamware/solvegrid/internal/logging"
	"github.com/dreamware/solvegrid/internal/storage"
	"github.com/dreamware/solvegrid/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coordinator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadCoordinator(
		config.WithConfigFile(os.Getenv("SOLVEGRID_CONFIG")),
		config.WithDotenv(config.DefaultDotenvFiles...),
	)
	if err != nil {
		return err
	}
	logger := logging.New("coordinator", logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	store, err := openStore(cfg.StorePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := coordinator.New(coordinator.Options{
		Store:             store,
		Logger:            logger,
		Registerer:        reg,
		NodeTimeout:       cfg.NodeTimeout,
		SweepInterval:     cfg.SweepInterval,
		KeepClaimsOnEvict: cfg.KeepClaims,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Start(ctx)
	defer c.Stop()

	admin := &http.Server{
		Addr:              cfg.MetricsListen,
		Handler:           newAdminMux(c, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.MetricsListen != "" {
		go func() {
			logger.Info("admin listening", "addr", cfg.MetricsListen)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "error", err)
			}
		}()
	}

	server := transport.NewHTTPServer(cfg.Listen, cfg.ExchangeTimeout, logger.Named("transport"))
	served := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", "addr", cfg.Listen, "node_timeout", cfg.NodeTimeout)
		served <- c.Serve(ctx, server)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-served:
		if err != nil {
			stop()
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("exchange server shutdown", "error", err)
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown", "error", err)
	}

	select {
	case <-served:
	case <-shutdownCtx.Done():
		logger.Warn("exchanges still running at shutdown deadline")
	}
	logger.Info("coordinator stopped")
	return nil
}

// openStore returns a badger store at path, or an in-memory store when path is empty.
func openStore(path string, logger hclog.Logger) (storage.FinishedStore, error) {
	if path == "" {
		logger.Warn("no store.path set; finished problems are kept in memory only")
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.OpenBadgerStore(path, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return store, nil
}
