package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/orderflow/internal/app"
	"github.com/odyssey-erp/orderflow/internal/audit"
	audithttp "github.com/odyssey-erp/orderflow/internal/audit/http"
	"github.com/odyssey-erp/orderflow/internal/ledger"
	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/orders"
	"github.com/odyssey-erp/orderflow/internal/platform/cache"
	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/internal/platform/gateway"
	"github.com/odyssey-erp/orderflow/internal/recurring"
	"github.com/odyssey-erp/orderflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	var paymentGateway ledger.Gateway
	if cfg.PaymentGatewayURL != "" {
		client := gateway.NewClient(cfg.PaymentGatewayURL, cfg.PaymentGatewayKey, cfg.PaymentGatewayTimeout)
		if err := client.Ping(ctx); err != nil {
			logger.Warn("payment gateway ping", slog.Any("error", err))
		}
		paymentGateway = client
	} else {
		logger.Warn("payment gateway not configured, payments are accepted without intent verification")
	}

	ordersRepo := orders.NewRepository(dbpool)
	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, orders.NewBillingLookup(ordersRepo), paymentGateway, metrics, logger)
	ordersService := orders.NewService(ordersRepo, ledgerService, metrics, logger)

	recurringRepo := recurring.NewRepository(dbpool)
	leaser := cache.NewLeaser(redisClient, cfg.RecurringLeaseTTL)
	recurringService := recurring.NewService(recurringRepo, ordersService, leaser, metrics, logger)

	auditRecorder := audit.NewRecorder(audit.NewRepository(dbpool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Verifier:         app.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		OrdersHandler:    orders.NewHandler(logger, ordersService),
		AuditHandler:     audithttp.NewHandler(logger, auditRecorder),
		LedgerHandler:    ledger.NewHandler(logger, ledgerService),
		RecurringHandler: recurring.NewHandler(logger, recurringService),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger),
		Metrics:          metrics,
		Ready: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
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
