package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chris/cash-settlement/pkg/config"
	"github.com/chris/cash-settlement/pkg/engine"
	"github.com/chris/cash-settlement/pkg/handlers"
	"github.com/chris/cash-settlement/pkg/handlers/accounts"
	"github.com/chris/cash-settlement/pkg/handlers/admin"
	"github.com/chris/cash-settlement/pkg/handlers/transactions"
	"github.com/chris/cash-settlement/pkg/handlers/webhooks"
	"github.com/chris/cash-settlement/pkg/notify"
	"github.com/chris/cash-settlement/pkg/websockets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	drainInterval     = 2 * time.Second
	reconcileInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e, err := engine.New(ctx, cfg, reg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer e.Close()

	hub := websockets.NewHub(logger.Named("hub"))
	dispatcher, err := e.Dispatcher(ctx, hub)
	if err != nil {
		logger.Fatal("failed to build dispatcher", zap.Error(err))
	}

	api := &handlers.ApiHandler{
		Accounts:       accounts.NewAccountsHandler(e.Store),
		Transactions:   transactions.NewTransactionsHandler(e.Store, e.Settlement, e.Withdrawals),
		Webhooks:       webhooks.NewWebhooksHandler(e.Providers, e.Settlement, e.Metrics, logger.Named("webhooks")),
		Admin:          admin.NewAdminHandler(e.Withdrawals, e.Interest, e.Store, logger.Named("admin")),
		WebSocket:      hub,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        e.Metrics,
		Logger:         logger.Named("http"),
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		drainLoop(gctx, dispatcher, logger.Named("notify"))
		return nil
	})
	g.Go(func() error {
		reconcileLoop(gctx, e, logger.Named("reconcile"))
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server stopped")
}

// drainLoop delivers outbox transitions while the server runs.
func drainLoop(ctx context.Context, d *notify.Dispatcher, logger *zap.Logger) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := d.Drain(ctx)
			if err != nil {
				logger.Error("outbox drain failed", zap.Error(err))
				continue
			}
			if report.Read > 0 {
				logger.Debug("outbox drained", zap.Any("report", report))
			}
		}
	}
}

// reconcileLoop resolves in-flight withdrawals and stale deposits in-process,
// for deployments without the scheduled lambdas.
func reconcileLoop(ctx context.Context, e *engine.Engine, logger *zap.Logger) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if report, err := e.Withdrawals.ReconcileAll(ctx); err != nil {
				logger.Error("withdrawal reconciliation failed", zap.Error(err))
			} else {
				logger.Debug("withdrawals reconciled", zap.Any("report", report))
			}
			if report, err := e.Settlement.PollPending(ctx, e.Config.DepositStaleAfter); err != nil {
				logger.Error("deposit polling failed", zap.Error(err))
			} else {
				logger.Debug("deposits polled", zap.Any("report", report))
			}
		}
	}
}
