package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/hotel-billing/internal/app"
	"github.com/noah-isme/hotel-billing/internal/checkout"
	"github.com/noah-isme/hotel-billing/internal/common"
	"github.com/noah-isme/hotel-billing/internal/config"
	"github.com/noah-isme/hotel-billing/internal/events"
	"github.com/noah-isme/hotel-billing/internal/health"
	"github.com/noah-isme/hotel-billing/internal/lock"
	"github.com/noah-isme/hotel-billing/internal/obs"
	"github.com/noah-isme/hotel-billing/internal/queue"
	"github.com/noah-isme/hotel-billing/internal/ratelimit"
	"github.com/noah-isme/hotel-billing/internal/taxrule"
	"github.com/noah-isme/hotel-billing/internal/txn"
	"github.com/noah-isme/hotel-billing/internal/voucher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(bootCtx, cfg, "api")
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

	receiptQueue := queue.Enqueuer{
		R:           deps.Redis,
		Prefix:      cfg.QueueRedisPrefix,
		DedupTTL:    cfg.IdempotencyTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
	}
	bus := &events.Bus{
		Store:     events.NewStore(deps.DB),
		Notifiers: []events.Notifier{events.ReceiptNotifier{Queue: receiptQueue}},
	}

	taxRules := taxrule.NewStore(deps.DB)
	ledger := &voucher.Ledger{Store: voucher.NewStore(deps.DB)}
	checkoutSvc := &checkout.Service{
		Rules:    taxRules,
		Vouchers: ledger,
		Unit:     checkout.PGUnitOfWork{DB: deps.DB},
		Bus:      bus,
		Locker: &lock.Locker{
			R:            deps.Redis,
			Prefix:       cfg.QueueRedisPrefix,
			RetryBackoff: cfg.LockRetryBackoff,
			MaxWait:      cfg.LockMaxWait,
			Logger:       &logger,
		},
		LockTTL: cfg.LockTTL,
		Logger:  logger.With().Str("module", "checkout").Logger(),
	}

	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Logger: logger}
	voucherHandler := &voucher.Handler{Ledger: ledger}
	taxRuleHandler := &taxrule.Handler{Store: taxRules, Logger: logger}
	txnHandler := &txn.Handler{Store: txn.NewStore(deps.DB), Logger: logger}
	queueAdmin := &queue.AdminHandler{Store: queue.NewStore(deps.DB), Queue: receiptQueue, Logger: logger}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Prefix: cfg.QueueRedisPrefix + ":idem"}
	readLimit, writeLimit := rateLimiters(deps, logger)

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Obs.EnableTracing {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Idempotent-Replayed", "Retry-After", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{Probes: []health.Probe{
		health.Postgres(deps.DB, 500*time.Millisecond),
		health.Redis(deps.Redis, 300*time.Millisecond),
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Group(func(read chi.Router) {
			read.Use(readLimit.Middleware)
			read.Post("/bills/quote", checkoutHandler.Quote)
			read.Post("/settlements/reconcile", checkoutHandler.Reconcile)
			read.Get("/vouchers/{code}", voucherHandler.Get)
			read.Post("/vouchers/preview", voucherHandler.Preview)
			read.Get("/transactions", txnHandler.List)
		})

		v.With(writeLimit.Middleware, idem.Middleware).Post("/checkouts", checkoutHandler.Checkout)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(readLimit.Middleware)
			admin.Get("/vouchers", voucherHandler.List)
			admin.With(idem.Middleware).Post("/vouchers", voucherHandler.Create)
			admin.Get("/tax-rules", taxRuleHandler.List)
			admin.With(idem.Middleware).Post("/tax-rules", taxRuleHandler.Create)
			admin.Patch("/tax-rules/{id}", taxRuleHandler.Toggle)
			admin.Get("/queue/dlq", queueAdmin.ListDLQ)
			admin.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
			admin.Get("/queue/stats", queueAdmin.Stats)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("currency", cfg.CurrencyCode).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// rateLimiters returns the per-IP limiter for reads and admin calls and the
// stricter sliding window used for settlement writes.
func rateLimiters(deps *app.Dependencies, logger zerolog.Logger) (read, write ratelimit.Handler) {
	onError := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	perMinute := deps.Config.RateLimitPerMinute

	store, err := app.NewLimiterStore(deps.Redis, deps.Config.QueueRedisPrefix)
	if err != nil {
		logger.Error().Err(err).Msg("rate limiter store")
	} else {
		read = ratelimit.Handler{Limiter: ratelimit.NewFixedWindow(store, perMinute), Key: ratelimit.ByClientIP("api"), OnError: onError}
	}
	write = ratelimit.Handler{
		Limiter: ratelimit.SlidingWindow{
			Client: deps.Redis,
			Prefix: deps.Config.QueueRedisPrefix + ":sw:",
			Window: time.Minute,
			Max:    perMinute,
		},
		Key:     ratelimit.ByClientIP("checkout"),
		OnError: onError,
	}
	return read, write
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(envOrDefault(key, "")) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
