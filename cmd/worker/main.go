package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/hotel-billing/internal/app"
	"github.com/noah-isme/hotel-billing/internal/config"
	"github.com/noah-isme/hotel-billing/internal/events"
	"github.com/noah-isme/hotel-billing/internal/obs"
	"github.com/noah-isme/hotel-billing/internal/queue"
	"github.com/noah-isme/hotel-billing/internal/receipt"
	"github.com/noah-isme/hotel-billing/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(bootCtx, cfg, "worker")
	cancel()
	if err != nil {
		bootLog := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel)
		bootLog.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close(context.Background())
	logger := deps.Logger

	if cfg.Obs.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	}
	if cfg.ReceiptEndpoint == "" {
		logger.Warn().Msg("RECEIPT_ENDPOINT not set, receipt tasks will be acknowledged without delivery")
	}

	breakers := &resilience.Breakers{
		Config: resilience.BreakerConfig{
			Window:       cfg.CircuitWindow,
			MinRequests:  cfg.CircuitMinRequests,
			FailureRatio: cfg.CircuitFailureRate,
			OpenFor:      cfg.CircuitOpenFor,
		},
		Logger: logger.With().Str("module", "receipt").Logger(),
	}
	dispatcher := receipt.Dispatcher{
		Endpoint: cfg.ReceiptEndpoint,
		Client: resilience.Client{
			HTTP:        resilience.NewTracedClient(cfg.ReceiptTimeout),
			Breakers:    breakers,
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.QueueBackoffJitter,
		},
		Logger: logger.With().Str("module", "receipt").Logger(),
	}

	receiptWorker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              events.ReceiptKind,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.QueueSoftDeadline,
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.QueueBackoffJitter,
		Store:             queue.NewStore(deps.DB),
		Logger:            &logger,
		Handler:           dispatcher.Handle,
	}

	logger.Info().Str("kind", events.ReceiptKind).Int("concurrency", cfg.QueueConcurrency).Msg("worker starting")
	if err := receiptWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}
