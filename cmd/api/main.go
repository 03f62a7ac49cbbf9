package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miragespace/vpsdash/auth"
	"github.com/miragespace/vpsdash/catalog"
	"github.com/miragespace/vpsdash/config"
	"github.com/miragespace/vpsdash/db"
	"github.com/miragespace/vpsdash/gateway"
	"github.com/miragespace/vpsdash/metrics"
	"github.com/miragespace/vpsdash/notify"
	"github.com/miragespace/vpsdash/payment"
	"github.com/miragespace/vpsdash/provider"
	"github.com/miragespace/vpsdash/provider/hetzner"
	"github.com/miragespace/vpsdash/provider/linode"
	"github.com/miragespace/vpsdash/ratelimit"
	resp "github.com/miragespace/vpsdash/response"
	"github.com/miragespace/vpsdash/server"
	"github.com/miragespace/vpsdash/wallet"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if config.EnvProduction == env {
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Load configurations from dotFile
	if err := config.LoadDotFile(env); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: string(authEnvironment),
		Release:     Version,
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	sentryCfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(sentryCfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Warn("Cannot attach sentry to logger",
			zap.Error(err),
		)
	} else {
		logger = zapsentry.AttachCoreToLogger(core, logger)
	}
	defer logger.Sync()

	// Initialize backend connections
	gdb, err := db.New(logger, cfg.PostgresURI)
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisURI},
		Password: cfg.RedisPW,
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	var notifier notify.Sink = notify.Nop{}
	if cfg.AMQPURI != "" {
		sink, err := notify.NewAMQPSink(notify.AMQPOptions{
			Logger: logger,
			URI:    cfg.AMQPURI,
		})
		if err != nil {
			logger.Error("Cannot connect to Broker, admin alerts are disabled",
				zap.Error(err),
			)
		} else {
			defer sink.Close()
			notifier = sink
		}
	}

	m := metrics.New()

	// Cloud provider
	linode.Register()
	hetzner.Register()
	backend, err := provider.Get(cfg.Provider, provider.Config{
		Token:   cfg.ProviderToken,
		Timeout: cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal("Cannot initialize cloud provider",
			zap.String("Provider", cfg.Provider),
			zap.Error(err),
		)
	}
	cloud := provider.Guard(backend, provider.GuardOptions{
		Limiter:  rate.NewLimiter(rate.Limit(10), 10),
		Timeout:  cfg.ProviderTimeout,
		Observer: m.ObserveProvider,
	})

	var offerings *catalog.Catalog
	if cfg.CatalogPath != "" {
		offerings, err = catalog.LoadFile(cfg.CatalogPath)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout)
		offerings, err = catalog.FromProvider(ctx, cloud)
		cancel()
	}
	if err != nil {
		logger.Fatal("Cannot load catalog",
			zap.Error(err),
		)
	}

	paymentGateway, err := gateway.New(gateway.Options{
		BaseURL:   cfg.GatewayURL,
		APIKey:    cfg.GatewayAPIKey,
		IPNSecret: cfg.GatewayIPNSecret,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize payment gateway",
			zap.Error(err),
		)
	}

	authenticator, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: cfg.JWTSigningKey,
		Audience:      cfg.JWTAudience,
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	limiter, err := ratelimit.New(ratelimit.Options{
		Logger: logger,
		Redis:  rdb,
		Limit:  cfg.RateLimitPerMinute,
		Window: time.Minute,
	})
	if err != nil {
		logger.Fatal("Cannot initialize rate limiter",
			zap.Error(err),
		)
	}

	// Managers
	walletManager, err := wallet.NewManager(wallet.Options{
		Logger: logger,
		DB:     gdb,
	})
	if err != nil {
		logger.Fatal("Cannot initialize WalletManager",
			zap.Error(err),
		)
	}

	paymentManager, err := payment.NewManager(payment.ManagerOptions{
		Logger:      logger,
		DB:          gdb,
		Gateway:     paymentGateway,
		Wallets:     walletManager,
		Notifier:    notifier,
		Metrics:     m,
		MinDeposit:  cfg.MinDeposit,
		CallbackURL: cfg.CallbackURL(),
		Expiry:      cfg.PaymentExpiry,
	})
	if err != nil {
		logger.Fatal("Cannot initialize PaymentManager",
			zap.Error(err),
		)
	}

	serverManager, err := server.NewManager(server.Options{
		Logger: logger,
		DB:     gdb,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ServerManager",
			zap.Error(err),
		)
	}

	lifecycle, err := server.NewLifecycle(server.LifecycleOptions{
		Logger:   logger,
		Servers:  serverManager,
		Provider: cloud,
		Catalog:  offerings,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Lifecycle",
			zap.Error(err),
		)
	}

	// Routers
	serverService, err := server.NewService(server.ServiceOptions{
		Lifecycle: lifecycle,
		Logger:    logger,
		RateLimit: limiter.Middleware,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Server Service Router",
			zap.Error(err),
		)
	}

	paymentService, err := payment.NewService(payment.ServiceOptions{
		PaymentManager: paymentManager,
		Logger:         logger,
		RateLimit:      limiter.Middleware,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Payment Service Router",
			zap.Error(err),
		)
	}

	walletService, err := wallet.NewService(wallet.ServiceOptions{
		WalletManager: walletManager,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Wallet Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.RealIP)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// signature-checked instead of authenticated
	rootRouter.Post("/payments/webhook", paymentManager.WebhookHandler(paymentGateway))

	rootRouter.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware())
		r.Use(authenticator.ClaimCheck())

		r.Mount("/servers", serverService.Router())
		r.Get("/catalog", serverService.CatalogHandler)
		r.Mount("/payments", paymentService.Router())
		r.Mount("/wallets", walletService.Router())

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticator.RequireAdmin())
			r.Mount("/payments", paymentService.AdminRouter())
		})
	})

	rootRouter.Handle("/metrics", m.Handler())
	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		err := db.Ping(r.Context(), gdb)
		if err == nil {
			err = rdb.Ping().Err()
		}
		if err != nil {
			logger.Warn("Health check failed",
				zap.Error(err),
			)
			resp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		resp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Handler:      rootRouter,
		Addr:         cfg.ListenAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 15*time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API server started",
		zap.String("Addr", cfg.ListenAddr),
		zap.String("Provider", cloud.Name()),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Cannot gracefully shutdown API server",
			zap.Error(err),
		)
	}
}
