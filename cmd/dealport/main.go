package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/app"
	"github.com/dealport/dealport/internal/auth"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/coupons"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/observability"
	"github.com/dealport/dealport/internal/platform/db"
	"github.com/dealport/dealport/internal/ratelimit"
	"github.com/dealport/dealport/internal/shared"
	"github.com/dealport/dealport/internal/stores"
	"github.com/dealport/dealport/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "dealport_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	policies := cfg.RatePolicies()
	if err := policies.Validate(); err != nil {
		logger.Error("rate policies", slog.Any("error", err))
		os.Exit(1)
	}

	failMode, err := ratelimit.ParseFailMode(cfg.RateLimitFailMode)
	if err != nil {
		logger.Error("rate limit fail mode", slog.Any("error", err))
		os.Exit(1)
	}

	var store ratelimit.Store
	var memStore *ratelimit.MemoryStore
	if cfg.RateLimitStore == "memory" {
		memStore = ratelimit.NewMemoryStore()
		store = memStore
	} else {
		store = ratelimit.NewRedisStore(redisClient)
	}

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	limiter := ratelimit.NewLimiter(store, logger,
		ratelimit.WithFailMode(failMode),
		ratelimit.WithOutageHook(func(policy string) {
			_, err := jobClient.EnqueueSecurityAlert(context.Background(), jobs.SecurityAlertPayload{
				Kind:       "store_unavailable",
				Policy:     policy,
				Detail:     "rate limit store unreachable, fail mode " + cfg.RateLimitFailMode,
				OccurredAt: time.Now().UTC(),
			})
			if err != nil {
				logger.Warn("enqueue security alert", slog.Any("error", err))
			}
		}),
	)

	identityRepo := identity.NewRepository(dbpool)
	resolver := identity.NewResolver(identityRepo, logger)
	engine := authz.NewEngine()
	metrics := observability.NewMetrics()

	gateway := admission.NewGateway(resolver, engine, limiter, logger, metrics)

	authService := auth.NewService(identityRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, engine, gateway, policies.Auth)

	couponsHandler := coupons.NewHandler(logger, coupons.NewRepository(dbpool), gateway, coupons.Policies{
		Read:      policies.Read,
		Write:     policies.Write,
		Sensitive: policies.Sensitive,
	})
	storesHandler := stores.NewHandler(logger, stores.NewRepository(dbpool), gateway, stores.Policies{
		Read:      policies.Read,
		Sensitive: policies.Sensitive,
	})

	if memStore != nil {
		// Periodic sweep bounds memory; behavior is unchanged since expiry is
		// also applied on access.
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if removed := memStore.Sweep(); removed > 0 {
						logger.Debug("rate limit sweep", slog.Int("removed", removed))
					}
				}
			}
		}()
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Gateway:        gateway,
		Policies:       policies,
		AuthHandler:    authHandler,
		CouponsHandler: couponsHandler,
		StoresHandler:  storesHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
