package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"throttle-gateway/internal/config"
	"throttle-gateway/internal/logging"
	"throttle-gateway/internal/redisconn"
	"throttle-gateway/middleware/throttle"
	"throttle-gateway/middleware/throttle/domain"
	"throttle-gateway/middleware/throttle/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("THROTTLE_CONFIG"), "config file (yaml/json/toml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.Upstream == "" {
		return errors.New("upstream is required")
	}
	target, err := url.Parse(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redisconn.New(cfg.Redis)
		defer func() { _ = rdb.Close() }()
		if err := redisconn.Ping(ctx, rdb, cfg.Redis.StartupWait, logger); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	var metrics *infra.PrometheusMetrics
	if cfg.Metrics.Enabled {
		metrics = infra.NewPrometheusMetrics(cfg.Metrics.Namespace)
		metrics.MustRegister(prometheus.DefaultRegisterer)
	}

	stats := infra.MultiStatsStore{}
	if metrics != nil {
		stats = append(stats, metrics)
	}
	if cfg.Stats.Redis {
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackNames(cfg.Stats.TrackNames),
		))
	}

	h := http.Handler(proxy)
	if cfg.Throttle.Enabled {
		mgr, err := newManager(ctx, cfg.Throttle, rdb, metrics)
		if err != nil {
			return err
		}
		policy, err := cfg.Throttle.PolicyValue()
		if err != nil {
			return err
		}
		mw, err := throttle.Middleware(throttle.Options{
			Manager:            mgr,
			Policy:             policy,
			NamePrefix:         cfg.Throttle.NamePrefix,
			Stats:              stats,
			KeyHeader:          cfg.Throttle.KeyHeader,
			TrustXForwardedFor: cfg.Throttle.TrustXFF,
			RetryAfter:         cfg.Throttle.RetryAfter,
			FailOpen:           cfg.Throttle.FailOpen,
			AddThrottleHeaders: cfg.Throttle.AddHeaders,
			Logger:             logger,
		})
		if err != nil {
			return err
		}
		h = mw(h)
	}

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("listen", cfg.Listen),
		zap.Stringer("upstream", target),
	)
	logger.Info("throttle",
		zap.Bool("enabled", cfg.Throttle.Enabled),
		zap.String("backend", cfg.Throttle.Backend),
		zap.String("policy", cfg.Throttle.Policy),
		zap.Duration("interval", cfg.Throttle.Interval),
		zap.Int64("threshold", cfg.Throttle.Threshold),
		zap.Bool("fail_open", cfg.Throttle.FailOpen),
	)
	logger.Info("throttle stats",
		zap.Bool("redis", cfg.Stats.Redis),
		zap.String("bucket", cfg.Stats.Bucket),
		zap.Duration("ttl", cfg.Stats.TTL),
		zap.Bool("track_names", cfg.Stats.TrackNames),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newManager(ctx context.Context, tc config.ThrottleConfig, rdb redis.UniversalClient, metrics *infra.PrometheusMetrics) (domain.Manager, error) {
	if tc.Backend == config.BackendRedis {
		opts := []infra.RedisOption{
			infra.WithPrefix(tc.KeyPrefix),
			infra.WithTimeout(tc.Timeout),
			infra.WithTTL(tc.TTL),
		}
		if metrics != nil {
			opts = append(opts, infra.WithObserver(metrics))
		}
		return infra.NewRedisManager(rdb, opts...)
	}

	local := infra.NewLocalManager(
		infra.WithIdleTTL(tc.IdleTTL),
		infra.WithCleanupEvery(tc.CleanupEvery),
	)
	local.StartJanitor(ctx)
	// requisições concorrentes no mesmo nome não podem decidir ao mesmo tempo
	return infra.NewSerializedManager(local), nil
}
