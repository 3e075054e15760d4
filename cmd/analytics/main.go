// Command analytics aggregates the search and index events published by the
// search service and serves them at GET /api/v1/analytics/stats.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hikikomori041/m2-projetweb/internal/analytics"
	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	"github.com/Hikikomori041/m2-projetweb/pkg/health"
	"github.com/Hikikomori041/m2-projetweb/pkg/kafka"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
	"github.com/Hikikomori041/m2-projetweb/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if !cfg.Kafka.Enabled {
		slog.Error("analytics service needs kafka.enabled")
		os.Exit(1)
	}
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	// The search service consumes evaluation events under the base group.
	kcfg := cfg.Kafka
	kcfg.ConsumerGroup += "-analytics"
	aggregator := analytics.NewAggregator()
	consumer := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
	defer consumer.Close()

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Start(ctx)
	}()
	slog.Info("consuming analytics events", "topic", cfg.Kafka.Topics.AnalyticsEvents, "group", kcfg.ConsumerGroup)

	checker := health.NewChecker()
	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		select {
		case err := <-consumerErr:
			consumerErr <- err
			return health.ComponentHealth{Status: health.StatusDown, Message: fmt.Sprintf("consumer stopped: %v", err)}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics/stats", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
