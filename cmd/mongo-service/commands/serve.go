package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mongoservice "github.com/kinfkong/mongo-service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the MongoDB service on the event bus",
	Long: `Connect to MongoDB and answer service requests sent to the configured
event-bus address until interrupted.

Examples:
  # Serve on NATS
  MONGO_SERVICE_BUS_KIND=nats MONGO_SERVICE_BUS_URL=nats://localhost:4222 \
    mongo-service serve

  # Serve with a config file and Prometheus metrics on :9090
  mongo-service serve --config /etc/mongo-service.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cfgFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := openBus(cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s bus: %w", cfg.Bus.Kind, err)
	}
	defer bus.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	platform := mongoservice.NewPlatform(
		mongoservice.WithEventBus(bus),
		mongoservice.WithLogger(logger),
		mongoservice.WithWorkerPoolSize(cfg.Workers),
		mongoservice.WithMetrics(registry),
	)
	defer platform.Close()

	svc, err := mongoservice.Create(platform, cfg.Mongo)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			logger.Error("service stop error", "error", err)
		}
	}()

	sub, err := mongoservice.RegisterService(platform, svc, cfg.Bus.Address)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("Metrics enabled", "listen", cfg.Metrics.Listen)
	}

	logger.Info("Serving", "bus", cfg.Bus.Kind, "address", cfg.Bus.Address, "version", Version)
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	return nil
}
