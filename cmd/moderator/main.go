package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/whisper/stream-moderation/internal/api"
	"github.com/whisper/stream-moderation/internal/ban"
	"github.com/whisper/stream-moderation/internal/config"
	"github.com/whisper/stream-moderation/internal/controls"
	"github.com/whisper/stream-moderation/internal/logging"
	"github.com/whisper/stream-moderation/internal/messaging"
	"github.com/whisper/stream-moderation/internal/metrics"
	"github.com/whisper/stream-moderation/internal/moderation"
	"github.com/whisper/stream-moderation/internal/ratelimit"
	"github.com/whisper/stream-moderation/internal/report"
	"github.com/whisper/stream-moderation/internal/service"
	"github.com/whisper/stream-moderation/internal/session"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("MODERATOR_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("moderator", cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	err = run(cfg, logger)
	if err != nil {
		logger.Error("moderator stopped", zap.Error(err))
	}
	logger.Sync() //nolint:errcheck
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := moderation.NewEngine(cfg.Moderation.Policy())
	policy := engine.Policy()
	logger.Info("engine ready",
		zap.Duration("ban_duration", policy.BanDuration),
		zap.Int("warning_threshold", policy.WarningThreshold),
		zap.Int("severe_threshold", int(policy.SevereThreshold)),
		zap.Int("words", len(policy.ProfanityWords)+len(policy.SecondaryWords)),
	)

	checks := map[string]api.HealthCheck{}

	var (
		store     session.Store = session.NewMemoryStore()
		sanctions controls.Sanctions
		limiter   service.Limiter = ratelimit.NewMemoryLimiter()
		reports   service.Reports = report.NewMemoryStore()
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}

		store = session.NewBreakerStore(session.NewRedisStore(rdb), 10*time.Second, 5)
		sanctions = ban.NewStore(rdb)
		limiter = ratelimit.NewLimiter(rdb, logger.Named("ratelimit"))
		reports = report.NewStore(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("using redis state", zap.String("addr", cfg.Redis.Addr))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := session.NewRegistry(engine, store, logger.Named("session"))
	svc := service.New(registry, sanctions, logger.Named("service"),
		service.WithLimiter(limiter),
		service.WithReports(reports),
		service.WithMetrics(m),
	)

	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = cfg.NATS.Name
	nc, err := messaging.NewClient(natsCfg, logger)
	if err != nil {
		return err
	}
	checks["nats"] = func(context.Context) error {
		if !nc.Connected() {
			return errors.New("disconnected")
		}
		return nil
	}

	if err := nc.ServeModerationCheck(svc.CheckHandler(ctx, nc)); err != nil {
		return err
	}
	if err := nc.ServeModerationControl(svc.ControlHandler(ctx)); err != nil {
		return err
	}
	if err := nc.ServeModerationReport(svc.ReportHandler(ctx)); err != nil {
		return err
	}
	if err := nc.SubscribeStreamEnded(svc.StreamEndedHandler(ctx)); err != nil {
		return err
	}
	if err := nc.SubscribeViewerLeft(svc.ViewerLeftHandler(ctx)); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(svc, logger.Named("api"), m.Handler(), checks).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	logger.Info("moderation service running",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	nc.Close()

	// Redis state is shared with other instances and expires on its own.
	if !cfg.Redis.Enabled {
		if err := svc.Close(shutdownCtx); err != nil {
			logger.Warn("failed to discard stream state", zap.Error(err))
		}
	}
	return runErr
}
