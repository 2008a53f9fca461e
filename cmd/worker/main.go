package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/config"
	"github.com/adsettle/backend/internal/db"
	"github.com/adsettle/backend/internal/events"
	"github.com/adsettle/backend/internal/lock"
	"github.com/adsettle/backend/internal/platform"
	"github.com/adsettle/backend/internal/repositories"
	"github.com/adsettle/backend/internal/services"
	"github.com/adsettle/backend/internal/ton"
	"github.com/adsettle/backend/internal/workers"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	api, err := ton.Connect(ctx, cfg.TONNetwork, cfg.LiteServerHost, cfg.LiteServerPort, cfg.LiteServerKey, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}
	wallets, err := ton.NewWallets(api, cfg.MasterWalletSeed, log)
	if err != nil {
		log.Fatal("failed to open master wallet", zap.Error(err))
	}

	// Repos
	dealRepo := repositories.NewDealRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	pendingRepo := repositories.NewPendingTransferRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	receiptRepo := repositories.NewReceiptRepo(pool)
	requirementRepo := repositories.NewRequirementRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	locker := lock.NewRedisLock(rdb, log)
	adapter := platform.NewTelegram(cfg.BotInternalURL, cfg.TMEFetchTimeoutMS, cfg.TMEFetchMaxRetries, log)

	dealService := services.NewDealService(dealRepo, auditRepo, publisher, cfg.VerificationWindowHours, log)
	escrowService := services.NewEscrowService(
		dealRepo, txRepo, pendingRepo, wallets, dealService, publisher,
		cfg.PlatformFeePercent, cfg.EscrowEncryptionKey,
		cfg.TransferRetryBase, cfg.TransferRetryMax, log,
	)
	disputeService := services.NewDisputeService(
		disputeRepo, dealService, escrowService, publisher,
		time.Duration(cfg.DisputeMutualWindowHours)*time.Hour, log,
	)
	purgeService := services.NewPurgeService(
		dealRepo, receiptRepo, publisher,
		time.Duration(cfg.PurgeAfterDays)*24*time.Hour, cfg.PurgeBatchSize, log,
	)

	// Workers
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workers.NewMetrics(registry)

	policy := workers.DefaultTimeoutPolicy(
		cfg.DealTimeoutPaymentSeconds,
		cfg.DealTimeoutCreativeSeconds,
		cfg.DealTimeoutPostingSeconds,
	)

	loops := []struct {
		worker   workers.Worker
		interval time.Duration
	}{
		{workers.NewPaymentWorker(dealRepo, escrowService, log), cfg.PaymentInterval},
		{workers.NewPostingWorker(dealRepo, dealService, escrowService, adapter, log), cfg.PostingInterval},
		{workers.NewVerifyWorker(dealRepo, requirementRepo, dealService, escrowService, adapter, locker, cfg.VerifyLockTTL, metrics, log), cfg.VerifyInterval},
		{workers.NewTimeoutWorker(dealRepo, dealService, escrowService, publisher, policy, log), cfg.TimeoutInterval},
		{workers.NewDisputeWorker(disputeService, log), cfg.DisputeInterval},
		{workers.NewRecoveryWorker(escrowService, metrics, log), cfg.RecoveryInterval},
		{workers.NewPurgeWorker(purgeService, log), cfg.PurgeInterval},
	}

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(w workers.Worker, interval time.Duration) {
			defer wg.Done()
			workers.Loop(ctx, w, interval, metrics, log)
		}(l.worker, l.interval)
	}

	ops := opsServer(registry, pool, rdb)
	go func() {
		if err := ops.Listen(":" + cfg.OpsPort); err != nil {
			log.Error("ops server stopped", zap.Error(err))
		}
	}()

	log.Info("settlement worker started", zap.String("ops_port", cfg.OpsPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	cancel()
	wg.Wait()
	_ = ops.Shutdown()
}

// opsServer exposes liveness and Prometheus metrics. No business endpoints
// live here; the engine is driven entirely by its workers.
func opsServer(registry *prometheus.Registry, pool *pgxpool.Pool, rdb *redis.Client) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "postgres": err.Error()})
		}
		if err := rdb.Ping(c.Context()).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "redis": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return app
}
