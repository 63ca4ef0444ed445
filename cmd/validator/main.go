package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hashtensor/validator/internal/api"
	"github.com/hashtensor/validator/internal/chain"
	"github.com/hashtensor/validator/internal/config"
	"github.com/hashtensor/validator/internal/logging"
	"github.com/hashtensor/validator/internal/mapping"
	"github.com/hashtensor/validator/internal/metrics"
	"github.com/hashtensor/validator/internal/rating"
	"github.com/hashtensor/validator/internal/registry"
	"github.com/hashtensor/validator/internal/signing"
	"github.com/hashtensor/validator/internal/syncer"
	"github.com/hashtensor/validator/internal/validator"
	"github.com/hashtensor/validator/internal/weights"
	"github.com/hashtensor/validator/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	if cfg.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := registry.Open(cfg.DatabaseURL, cfg.MaxWorkersPerHotkey)
	if err != nil {
		logger.Fatalw("failed to open registry store", "error", err)
	}

	keypair, err := signing.LoadKeypair(cfg.WalletPath, cfg.WalletName, cfg.WalletHotkey)
	if err != nil {
		logger.Fatalw("failed to load hotkey keypair", "error", err)
	}
	logger.Infow("loaded validator hotkey", "address", keypair.Address())

	ledger, err := chain.Dial(cfg.SubtensorAddress, logger)
	if err != nil {
		logger.Fatalw("failed to connect to ledger node", "error", err)
	}
	defer ledger.Close()

	metricsClient, err := metrics.NewClient(cfg.PrometheusEndpoint, cfg.Window, cfg.PoolOwnerWallet)
	if err != nil {
		logger.Fatalw("failed to create metrics client", "error", err)
	}

	source, err := mapping.NewSource(cfg.MappingSource, store)
	if err != nil {
		logger.Fatalw("failed to create mapping source", "error", err)
	}
	mappingCache := mapping.NewCache(source, cfg.CacheTTL)
	workerProvider := workers.NewProvider(metricsClient, cfg.CacheTTL)

	calculator := rating.NewCalculator(rating.Config{
		Window:                     cfg.Window,
		UptimeAlpha:                cfg.UptimeAlpha,
		MaxDifficulty:              cfg.MaxDifficulty,
		InvalidSharesPenaltyFactor: cfg.InvalidSharesPenaltyFactor,
		Digits:                     cfg.RatingDigits,
	})
	validatorSvc := validator.New(metricsClient, mappingCache, calculator, cfg.PoolOwnerWallet)

	orchestrator := syncer.New(store, ledger, syncer.NewHTTPPeers(nil), syncer.Config{
		Netuid:           cfg.Netuid,
		MinWeightedStake: cfg.MinWeightedStake,
		ProbeTimeout:     cfg.ProbeTimeout,
		PageSize:         cfg.PeerPageSize,
	}, logger)

	publisher := weights.New(store, ledger, validatorSvc, keypair, cfg.Netuid, cfg.SetWeightsInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runSyncLoop(ctx, orchestrator, cfg.SyncInterval, logger)
	go runWeightsLoop(ctx, publisher, logger)

	server := api.NewServer(cfg, store, workerProvider, ledger, mappingCache, validatorSvc, logger)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Router()}
	go func() {
		logger.Infow("starting API server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("API server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// runSyncLoop pulls peer registries once per interval. Any error is logged
// and the loop keeps going; no peer failure is fatal to the process.
func runSyncLoop(ctx context.Context, orchestrator *syncer.Orchestrator, interval time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := orchestrator.Run(ctx); err != nil {
				logger.Warnw("sync pass failed", "error", err)
			}
		}
	}
}

// runWeightsLoop publishes weights once per tick. An identity error means
// this instance cannot participate in weighting at all, so it stops the
// process; transient errors retry on the next tick.
func runWeightsLoop(ctx context.Context, publisher *weights.Publisher, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := publisher.RunOnce(ctx)
			if err == nil {
				continue
			}
			if errors.Is(err, weights.ErrIdentityMissing) {
				logger.Fatalw("weight publish failed fatally", "error", err)
			}
			logger.Errorw("weight publish failed", "error", err)
		}
	}
}
