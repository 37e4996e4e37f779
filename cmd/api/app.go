package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fitsa/fitsa/internal/auth"
	"github.com/fitsa/fitsa/internal/cache"
	"github.com/fitsa/fitsa/internal/composer"
	"github.com/fitsa/fitsa/internal/config"
	"github.com/fitsa/fitsa/internal/handler"
	"github.com/fitsa/fitsa/internal/ledger"
	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/middleware"
	"github.com/fitsa/fitsa/internal/payment"
	"github.com/fitsa/fitsa/internal/refit"
	"github.com/fitsa/fitsa/internal/repository"
	"github.com/fitsa/fitsa/internal/savedfit"
	"github.com/fitsa/fitsa/internal/server"
	"github.com/fitsa/fitsa/internal/service"
	"github.com/fitsa/fitsa/internal/storage"
	"github.com/fitsa/fitsa/internal/usage"
)

// Expired refit entries are swept from the in-process window this often.
const refitSweepInterval = time.Minute

// app holds the wired dependencies and their lifecycle hooks.
type app struct {
	router http.Handler

	repo        *repository.Repository
	cache       *cache.Cache
	refitMemory *refit.MemoryStore
	usageWorker *usage.Worker
	logger      *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	// Metrics
	var (
		recorder       metrics.Recorder
		metricsHandler http.Handler
	)
	if cfg.MetricsBackend == "prometheus" {
		prom := metrics.NewPrometheus()
		recorder = prom
		metricsHandler = prom.Handler()
	} else {
		mem := metrics.NewInMemory()
		recorder = mem
		metricsHandler = http.HandlerFunc(handler.NewMetricsHandler(mem).Metrics)
	}

	// Postgres
	if cfg.StoreBackend == config.BackendPostgres {
		repo, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database %s: %w", redactURL(cfg.DatabaseURL), err)
		}
		a.repo = repo
		logger.Info("connected to database")
	}

	// Redis
	if cfg.RedisURL != "" {
		c, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis %s: %w", redactURL(cfg.RedisURL), err)
		}
		a.cache = c
		logger.Info("connected to Redis")
	}

	// Ledger, saved fits and usage history
	var (
		ledgerStore ledger.Store
		fitStore    savedfit.Store
		history     usage.History
		recorderU   usage.Recorder
	)
	if a.repo != nil {
		ledgerStore = a.repo.Accounts(cfg.FreeAllotment)
		fitStore = a.repo.SavedFits()
		events := a.repo.FittingEvents()
		history = events
		if a.cache != nil {
			recorderU = usage.NewPublisher(a.cache.Client(), logger, recorder)
			if cfg.UsageWorkerEnabled {
				a.usageWorker = usage.NewWorker(a.cache.Client(), events, logger, usage.NewConsumerID(), recorder)
			}
		} else {
			recorderU = usage.NewDirectRecorder(events, logger, recorder)
		}
	} else {
		ledgerStore = ledger.NewMemoryStore(cfg.FreeAllotment)
		fitStore = savedfit.NewMemoryStore()
		memLog := usage.NewMemoryLog(0)
		history = memLog
		recorderU = memLog
	}

	// Refit window
	policy := refit.Policy{Limit: cfg.RefitLimit, Window: cfg.RefitWindow}
	var window refit.Store
	if a.cache != nil {
		window = a.cache.RefitWindow(policy, cfg.RefitEntryTTL)
	} else {
		a.refitMemory = refit.NewMemoryStore(policy, cfg.RefitEntryTTL)
		window = a.refitMemory
	}

	// Result storage
	var (
		blobs       storage.BlobStore
		blobChecker handler.HealthChecker
		memoryBlobs *storage.MemoryStore
	)
	if cfg.BlobBackend == config.BackendS3 {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		blobs = s3Store
		blobChecker = s3Store
	} else {
		memoryBlobs = storage.NewMemoryStore(cfg.BaseURL)
		blobs = memoryBlobs
	}

	// Composition providers, tried in order
	var composers []composer.Composer
	for i, endpoint := range cfg.GetComposerURLs() {
		composers = append(composers, composer.NewHTTP(composer.HTTPConfig{
			Name:     composerName(i, endpoint),
			Endpoint: endpoint,
			APIKey:   cfg.ComposerAPIKey,
			RPS:      cfg.ComposerRPS,
			Burst:    cfg.ComposerBurst,
		}))
	}

	// Payments
	offer := payment.Offer{
		Credits:    cfg.CreditsPerPurchase,
		PriceCents: cfg.PurchasePriceCents,
		Currency:   cfg.PurchaseCurrency,
	}
	var (
		gateway    payment.Gateway
		paymentURL string
	)
	switch cfg.PaymentProvider {
	case config.PaymentStripe:
		gateway = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.StripeSuccessURL,
			CancelURL:     cfg.StripeCancelURL,
			Offer:         offer,
		})
		paymentURL = cfg.BaseURL + "/api/v1/billing/checkout"
	case config.PaymentSigned:
		gateway = payment.NewSignedGateway(cfg.PaymentWebhookSecret, offer)
	default:
		gateway = payment.Disabled{}
	}

	// Admin access
	var adminVerifier middleware.AdminTokenVerifier
	if cfg.AdminTokenHash != "" {
		v, err := auth.NewAdminVerifier(cfg.AdminTokenHash)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("ADMIN_TOKEN_HASH: %w", err)
		}
		adminVerifier = v
	}

	// Services
	fittingSvc := service.NewFittingService(service.FittingDeps{
		Ledger:   ledgerStore,
		Window:   window,
		Composer: composer.NewChain(logger, composers...),
		Blobs:    blobs,
		Usage:    recorderU,
	}, service.FittingOptions{
		MaxStages:    cfg.MaxStages,
		StageTimeout: cfg.ComposeStageTimeout,
		Policy:       policy,
	}, logger, recorder)
	accountSvc := service.NewAccountService(ledgerStore, history, gateway,
		service.AccountOptions{Offer: offer, DevTools: cfg.DevToolsEnabled}, logger, recorder)
	savedFitSvc := service.NewSavedFitService(fitStore)

	// Health dependencies; nil interfaces for what is not configured
	var dbChecker, cacheChecker handler.HealthChecker
	if a.repo != nil {
		dbChecker = a.repo
	}
	if a.cache != nil {
		cacheChecker = a.cache
	}

	var limiter middleware.SubmitLimiter
	if a.cache != nil {
		limiter = a.cache
	}

	a.router = setupRouter(routes{
		info:     handler.New(version, gateway.Name()),
		health:   handler.NewHealthHandler(dbChecker, cacheChecker, blobChecker),
		metrics:  metricsHandler,
		fitting:  handler.NewFittingHandler(fittingSvc, paymentURL, logger),
		account:  handler.NewAccountHandler(accountSvc, logger),
		savedFit: handler.NewSavedFitHandler(savedFitSvc, logger),
		results:  memoryBlobs,
		admin:    adminVerifier,
		limiter:  limiter,
	}, cfg, logger)

	return a, nil
}

// attach registers background loops and shutdown hooks. Hooks run LIFO, so
// the connections registered first are closed last.
func (a *app) attach(srv *server.Server) {
	if a.repo != nil {
		srv.OnShutdown("postgres", func(ctx context.Context) error {
			a.repo.Close()
			return nil
		})
	}
	if a.cache != nil {
		srv.OnShutdown("redis", func(ctx context.Context) error {
			return a.cache.Close()
		})
	}
	if a.refitMemory != nil {
		srv.Background("refit-sweeper", func(ctx context.Context) {
			a.refitMemory.Run(ctx, refitSweepInterval)
		})
	}
	if a.usageWorker != nil {
		srv.Background("usage-worker", func(ctx context.Context) {
			if err := a.usageWorker.Run(ctx); err != nil {
				a.logger.Error("usage worker stopped", "error", err)
			}
		})
	}
}

func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

// composerName derives a provider label from its endpoint host.
func composerName(i int, endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return fmt.Sprintf("composer-%d", i+1)
}

type routes struct {
	info     *handler.Handler
	health   *handler.HealthHandler
	metrics  http.Handler
	fitting  *handler.FittingHandler
	account  *handler.AccountHandler
	savedFit *handler.SavedFitHandler
	results  *storage.MemoryStore
	admin    middleware.AdminTokenVerifier
	limiter  middleware.SubmitLimiter
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(h routes, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))

	// Probes and service info
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Handle("/metrics", h.metrics)
	r.Get("/", h.info.Info)

	if h.results != nil {
		r.Get("/results/*", handler.NewResultHandler(h.results).Serve)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Gateway callbacks carry no client identity
		r.Post("/billing/webhook", h.account.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ClientIdentity(middleware.ClientIdentityConfig{
				CookieName: cfg.ClientCookieName,
				Secure:     !cfg.IsDevelopment(),
			}))

			r.With(
				middleware.RateLimitIP(middleware.RateLimitConfig{
					Logger:  logger,
					Limiter: h.limiter,
					Enabled: cfg.RateLimitSubmitEnabled,
					RPS:     cfg.RateLimitSubmitRPS,
					Burst:   cfg.RateLimitSubmitBurst,
				}),
				middleware.MaxBodySize(cfg.MaxUploadBytes),
				middleware.RequireContentType("multipart/form-data"),
			).Post("/fittings", h.fitting.Submit)

			r.Route("/me", func(r chi.Router) {
				r.Get("/status", h.account.Status)
				r.Get("/history", h.account.History)
				r.Post("/simulate-purchase", h.account.SimulatePurchase)
				r.Post("/reset-free", h.account.ResetFreeSelf)
			})

			r.Route("/billing", func(r chi.Router) {
				r.Post("/checkout", h.account.Checkout)
				r.Post("/complete", h.account.Complete)
			})

			r.Route("/saved-fits", func(r chi.Router) {
				r.Get("/", h.savedFit.List)
				r.Post("/", h.savedFit.Create)
				r.Get("/{id}", h.savedFit.Get)
				r.Delete("/{id}", h.savedFit.Delete)
			})
		})

		r.Route("/admin/accounts/{userID}", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admin, logger))
			r.Get("/", h.account.AdminAccount)
			r.Post("/credits", h.account.AdminCredit)
			r.Post("/reset-free", h.account.AdminResetFree)
		})
	})

	r.NotFound(h.info.NotFound)
	r.MethodNotAllowed(h.info.MethodNotAllowed)

	return r
}
