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
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/analytics"
	"github.com/Hikikomori041/m2-projetweb/internal/commentindex"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/consumer"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/rebuild"
	"github.com/Hikikomori041/m2-projetweb/internal/searcher/cache"
	"github.com/Hikikomori041/m2-projetweb/internal/searcher/handler"
	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	"github.com/Hikikomori041/m2-projetweb/pkg/health"
	"github.com/Hikikomori041/m2-projetweb/pkg/kafka"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
	"github.com/Hikikomori041/m2-projetweb/pkg/postgres"
	pkgredis "github.com/Hikikomori041/m2-projetweb/pkg/redis"
	"github.com/Hikikomori041/m2-projetweb/pkg/resilience"
	"github.com/Hikikomori041/m2-projetweb/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
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
	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"storage", cfg.Indexer.Storage,
		"data_dir", cfg.Indexer.DataDir,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}
	checker := health.NewChecker()
	opts := []commentindex.Option{
		commentindex.WithMetrics(m),
		commentindex.WithTracer(tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate)),
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			opts = append(opts, commentindex.WithCache(queryCache))
			checker.Register("redis", health.PingCheck(redisClient.Ping, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var publisher analytics.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		publisher = producer
	}
	aggregator := analytics.NewAggregator()
	collector := analytics.NewCollector(publisher, aggregator, 10000, 100, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()
	opts = append(opts, commentindex.WithCollector(collector))

	svc, err := commentindex.Open(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("opening comment index: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			slog.Error("closing comment index failed", "error", err)
		}
	}()
	checker.Register("index", health.PingCheck(svc.Ping, false))

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		checker.Register("postgres", health.PingCheck(pg.Ping, true))
		if cfg.Indexer.RebuildOnStartup {
			res, err := svc.Reindex(ctx, rebuild.NewSource(pg))
			if err != nil {
				return fmt.Errorf("rebuilding index: %w", err)
			}
			slog.Info("index rebuilt from postgres", "indexed", res.Indexed, "generation", res.Generation)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.EvaluationEvents,
			consumer.HandleMessage(svc, m, resilience.RetryConfig{MaxAttempts: 5}))
		ic := consumer.New(kc)
		defer ic.Close()
		g.Go(func() error { return ic.Start(gctx) })
		slog.Info("consuming evaluation events",
			"topic", cfg.Kafka.Topics.EvaluationEvents,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	if cfg.Indexer.MergeInterval > 0 {
		g.Go(func() error {
			mergeLoop(gctx, svc, cfg.Indexer.MergeInterval)
			return nil
		})
	}

	h := handler.New(svc, queryCache, cfg.Search.MaxKeywords)
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.NewRouter(h, handler.RouterConfig{
			Analytics: analytics.NewHandler(aggregator),
			Health:    checker,
			Metrics:   m,
			Server:    cfg.Server,
			RateLimit: cfg.RateLimit,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	servers := []*http.Server{server}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

func mergeLoop(ctx context.Context, svc *commentindex.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gen, err := svc.Merge(ctx)
			if err != nil {
				slog.Error("scheduled merge failed", "error", err)
				continue
			}
			slog.Info("scheduled merge complete", "generation", gen)
		}
	}
}
