package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/alerting"
	"github.com/anirudiment/rudiment-dashbaord/internal/dashboard"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/aws"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/cache"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/config"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/resilience"
	"github.com/anirudiment/rudiment-dashbaord/internal/report"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream/mailblast"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream/prospectly"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(os.Getenv("CONFIG_PATH"))

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("campaign-dashboard", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "campaign-dashboard", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.Info("observability setup complete")

	// Setup caches
	logger.Info("setting up caches...")

	redisCache, err := cache.NewRedisCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.LogError(ctx, "failed to create Redis cache", err)
		log.Fatalf("Failed to create Redis cache: %v", err)
	}
	defer redisCache.Close()

	memCache := cache.NewMemoryCache(cfg.Cache.L1MaxSize)
	defer memCache.Close()

	layeredCache := cache.NewLayeredCache(memCache, redisCache)

	// Alerting (before the upstream clients, whose breakers publish
	// through it)
	alerter := buildAlerter(ctx, cfg, logger, metrics)

	onCircuitOpen := func(platform string) {
		alertErr := alerter.PublishAlert(context.Background(), alerting.Alert{
			Kind:     alerting.KindCircuitOpen,
			Platform: platform,
			Message:  "upstream circuit breaker opened",
		})
		if alertErr != nil {
			logger.LogError(context.Background(), "failed to raise circuit alert", alertErr, "platform", platform)
		}
	}

	// Upstream clients
	logger.Info("creating upstream clients...")

	mailblastClient, err := mailblast.NewClient(mailblast.ClientConfig{
		BaseURL:        cfg.Upstreams.Mailblast.BaseURL,
		APIKey:         cfg.Upstreams.Mailblast.APIKey,
		Timeout:        cfg.Upstreams.Mailblast.Timeout,
		PageSize:       cfg.Upstreams.Mailblast.PageSize,
		RateLimitRPM:   cfg.Upstreams.Mailblast.RateLimit.RequestsPerMinute,
		RateLimitBurst: cfg.Upstreams.Mailblast.RateLimit.Burst,
		Logger:         logger,
		Metrics:        metrics,
		RetryConfig:    retryConfig(cfg.Upstreams.Mailblast.Retry),
		OnCircuitOpen:  onCircuitOpen,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create Mailblast client", err)
		log.Fatalf("Failed to create Mailblast client: %v", err)
	}

	prospectlyClient, err := prospectly.NewClient(prospectly.ClientConfig{
		BaseURL:       cfg.Upstreams.Prospectly.BaseURL,
		APIKey:        cfg.Upstreams.Prospectly.APIKey,
		Timeout:       cfg.Upstreams.Prospectly.Timeout,
		PageSize:      cfg.Upstreams.Prospectly.PageSize,
		RateLimitRPM:  cfg.Upstreams.Prospectly.RateLimit.RequestsPerMinute,
		Logger:        logger,
		Metrics:       metrics,
		RetryConfig:   retryConfig(cfg.Upstreams.Prospectly.Retry),
		OnCircuitOpen: onCircuitOpen,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create Prospectly client", err)
		log.Fatalf("Failed to create Prospectly client: %v", err)
	}

	// Warm upstream connections before serving traffic
	warmupCache(ctx, logger, mailblastClient, prospectlyClient)

	// Report service
	logger.Info("creating report service...")

	statsWarmer := report.NewWarmer(report.WarmerConfig{
		StalenessThreshold: cfg.Stats.StalenessThreshold,
		MinRefreshInterval: cfg.Stats.MinRefreshInterval,
		Workers:            cfg.Stats.Workers,
		InterCallDelay:     cfg.Stats.InterCallDelay,
		OnError: func(key string, err error) {
			alertErr := alerter.PublishAlert(context.Background(), alerting.Alert{
				Kind:    alerting.KindRefreshFailed,
				Key:     key,
				Message: err.Error(),
			})
			if alertErr != nil {
				logger.LogError(context.Background(), "failed to raise refresh alert", alertErr, "key", key)
			}
		},
	}, logger, metrics)
	defer statsWarmer.Close()

	streamCache := report.NewStreamCache(report.StreamConfig{
		TTL:             cfg.Stream.TTL,
		MaxPagesPerScan: cfg.Stream.MaxPagesPerScan,
	}, logger, metrics)

	service := report.NewService(report.ServiceConfig{
		ReportTTL:   cfg.Cache.ReportTTL,
		EntityCache: layeredCache,
		EntityTTL:   cfg.Cache.L2TTL,
	}, []upstream.Fetcher{mailblastClient, prospectlyClient}, statsWarmer, streamCache, logger, metrics)

	// Dashboard HTTP server
	server, err := dashboard.NewServer(dashboard.ServerConfig{
		Port:    cfg.HTTP.Port,
		Service: service,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create dashboard server", err)
		log.Fatalf("Failed to create dashboard server: %v", err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.LogError(ctx, "dashboard server error", err)
			cancel()
		}
	}()

	// Metrics and readiness endpoints on a separate port
	if cfg.Observability.Metrics.Enabled {
		go startMetricsServer(cfg.Observability.Metrics.Port, metrics, logger)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, gracefully stopping...")
	case <-ctx.Done():
		logger.Info("context cancelled, stopping...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "dashboard server shutdown error", err)
	}

	logger.Info("application stopped")
}

// retryConfig maps file configuration onto the resilience retry settings.
func retryConfig(cfg config.RetryConfig) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		rc.BaseDelay = cfg.BaseDelay
	}
	return rc
}

// warmupCache primes upstream connections so the first report request
// does not pay the full listing latency.
func warmupCache(ctx context.Context, logger *observability.Logger, providers ...cache.WarmupProvider) {
	warmer := cache.NewWarmer(logger, cache.DefaultWarmupConfig())
	for _, p := range providers {
		warmer.RegisterProvider(p)
	}

	results := warmer.Warmup(ctx)
	if results.HasErrors() {
		logger.Warn("cache warmup completed with errors", "duration", results.TotalTime)
	} else {
		logger.Info("cache warmup complete", "duration", results.TotalTime)
	}
}

// buildAlerter returns the SNS alerter when a topic is configured, the
// logging no-op otherwise.
func buildAlerter(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) alerting.Alerter {
	if cfg.AWS.SNSTopicARN == "" {
		logger.Info("SNS topic not configured, alerting disabled")
		return alerting.NewNoOpAlerter(logger)
	}

	awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
	if err != nil {
		logger.LogError(ctx, "failed to load AWS config, alerting disabled", err)
		return alerting.NewNoOpAlerter(logger)
	}

	snsClient := aws.NewSNSClient(aws.SNSClientConfig{
		AWSConfig: awsCfg,
		Logger:    logger,
		Metrics:   metrics,
	})

	publisher, err := alerting.NewPublisher(alerting.PublisherConfig{
		SNSClient: snsClient,
		TopicARN:  cfg.AWS.SNSTopicARN,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create alert publisher, alerting disabled", err)
		return alerting.NewNoOpAlerter(logger)
	}

	return publisher
}

// startMetricsServer serves Prometheus metrics and liveness probes.
func startMetricsServer(port int, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics server listening", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "metrics server error", err)
	}
}
