package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ecoswap/internal/api"
	"ecoswap/internal/lock"
	"ecoswap/internal/metrics"
	"ecoswap/internal/pricing"
	"ecoswap/internal/service"
	"ecoswap/pkg"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, zapLogger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()
	log := pkg.NewZapLogger(zapLogger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	policy, err := pricing.NewRatePolicy(cfg.CoinsPerCredit)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reports := service.NewReportingService(stores, cfg.CacheTTL)
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New(reg)),
		service.WithNotifier(reports),
		service.WithLocker(lock.NewKeyed()),
		service.WithLockTimeout(cfg.LockTimeout),
	}
	handlers := &api.Handlers{
		Accounts:    service.NewAccountService(stores.Balances, stores.Lots, cfg.OpeningBalance, opts...),
		Purchases:   service.NewPurchaseService(stores.Balances, stores.Lots, stores.Transactions, policy, opts...),
		Retirements: service.NewRetirementService(stores.Balances, stores.Retirements, opts...),
		Reports:     reports,
		Logger:      log,
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, mutating routes accept unauthenticated requests")
	}
	router := api.NewRouter(handlers, zapLogger, api.RouterConfig{JWTSecret: cfg.JWTSecret, Gatherer: reg})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("port", cfg.ServerPort), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Failed to run server", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	log.Info("Server exiting")
	return nil
}
