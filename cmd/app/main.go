// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"license-server/internal/config"
	"license-server/internal/infra/api"
	pg "license-server/internal/infra/db/postgres"
	"license-server/internal/infra/logging"
	"license-server/internal/infra/metrics"
	red "license-server/internal/infra/redis"
	"license-server/internal/infra/security"
	"license-server/internal/infra/web"
	"license-server/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, key generation)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Runtime.Dev {
		log.Printf("[DEV MODE] Enabled")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Signing keys ----
	// Without key material every activation and heartbeat would fail, so
	// a load error is fatal rather than degraded.
	keys, err := security.NewKeyManager(cfg.Keys)
	if err != nil {
		log.Fatalf("signing keys: %v", err)
	}
	signer := security.NewSigner(keys)
	logger.Info().Str("key_id", keys.KeyID()).Msg("signing key loaded")

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis (rate limiting only; the server runs without it) ----
	var limiter *red.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; rate limiting disabled")
		} else {
			defer redisClient.Close()
			limiter = red.NewRateLimiter(redisClient)
		}
	}

	// ---- Repositories ----
	licRepo := pg.NewPostgresLicenseRepo(pool)
	recRepo := pg.NewPostgresValidationRecordRepo(pool)
	cliRepo := pg.NewPostgresClientRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Use cases ----
	actUC := usecase.NewActivationUseCase(licRepo, recRepo, cliRepo, signer, tm, logger)
	valUC := usecase.NewValidationUseCase(licRepo, recRepo, cliRepo, signer, logger)
	licUC := usecase.NewLicenseAdminUseCase(licRepo, recRepo, cliRepo, tm, logger)
	cliUC := usecase.NewClientUseCase(cliRepo)

	// ---- Public API ----
	apiSrv := api.NewServer(actUC, valUC, keys, limiter, cfg.RateLimit, logger)
	publicServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: apiSrv.Router(cfg.Server.RequestTimeout),
	}
	go func() {
		logger.Info().Str("addr", publicServer.Addr).Msg("public api listening")
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("public api server error")
		}
	}()

	// ---- Admin API + metrics ----
	adminSrv := web.NewServer(licUC, cliUC, cfg.Admin.APIKey, logger)
	mux := http.NewServeMux()
	adminSrv.RegisterRoutes(mux)
	adminServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Admin.Port), Handler: mux}
	go func() {
		logger.Info().Str("addr", adminServer.Addr).Msg("admin api listening")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	// Prime the per-status gauges so /metrics is meaningful before the
	// first /admin/v1/stats call.
	if _, err := licUC.RefreshStatusMetrics(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial status metrics refresh failed")
	}

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = publicServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)
	cancel()
}
