// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketing-refund-core/internal/config"
	"ticketing-refund-core/internal/domain/ports/adapter"
	"ticketing-refund-core/internal/infra/adapters/notify"
	"ticketing-refund-core/internal/infra/adapters/settlement"
	"ticketing-refund-core/internal/infra/bus"
	pg "ticketing-refund-core/internal/infra/db/postgres"
	"ticketing-refund-core/internal/infra/logging"
	"ticketing-refund-core/internal/infra/metrics"
	red "ticketing-refund-core/internal/infra/redis"
	"ticketing-refund-core/internal/infra/web"
	"ticketing-refund-core/internal/infra/worker"
	"ticketing-refund-core/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop settlement, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	ticketRepo := pg.NewTicketRepo(pool)
	eventRepo := pg.NewEventRepo(pool)
	policyRepo := pg.NewPolicyRepo(pool)
	requestRepo := pg.NewRefundRequestRepo(pool)
	txnRepo := pg.NewRefundTransactionRepo(pool)
	cancellationRepo := pg.NewCancellationRepo(pool)
	walletRepo := pg.NewWalletRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Settlement gateway ----
	walletRail := settlement.NewWalletGateway(walletRepo)
	var gateway adapter.SettlementGateway
	if cfg.Runtime.Dev {
		gateway = settlement.NewNoopGateway()
		logger.Warn().Msg("settlement gateway: noop")
	} else {
		mm, err := settlement.NewMobileMoneyGateway(cfg.Gateways.MobileMoney)
		if err != nil {
			logger.Fatal().Err(err).Msg("mobile money gateway")
		}
		card, err := settlement.NewCardGateway(cfg.Gateways.Card)
		if err != nil {
			logger.Fatal().Err(err).Msg("card gateway")
		}
		gateway = settlement.NewMux(mm, card, walletRail)
	}

	// ---- Event streams + worker pool ----
	streams := bus.New(cfg.Bus.Buffer)
	refundPool := worker.NewPool(cfg.Cancellation.Workers, logger)
	refundPool.Start(ctx)
	defer refundPool.Stop()

	// ---- Use cases ----
	refundUC := usecase.NewRefundUseCase(
		ticketRepo, eventRepo, policyRepo, requestRepo, txnRepo,
		gateway, tm, locker, streams,
		cfg.Refunds.MaxAutoApproveAmount, cfg.Redis.LockTTL, logger,
	)
	sender := notify.NewLogSender(logger)
	notifUC := usecase.NewNotificationUseCase(sender, cfg.Cancellation.NotifySubject, cfg.Cancellation.NotifyBody, logger)
	cancellationUC := usecase.NewCancellationUseCase(
		cancellationRepo, eventRepo, ticketRepo, requestRepo,
		refundUC, notifUC, refundPool, tm, streams,
		cfg.Cancellation.ConfirmationPhrase, logger,
	)

	// ---- Crash recovery ----
	// Refunds first so stuck settlements resolve before cancellations
	// recount them.
	if n, err := refundUC.ResumeStalled(ctx); err != nil {
		logger.Error().Err(err).Msg("resume stalled refunds")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("resumed stalled refunds")
	}
	if n, err := cancellationUC.ResumeStalled(ctx); err != nil {
		logger.Error().Err(err).Msg("resume stalled cancellations")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("resumed stalled cancellations")
	}

	// ---- Metrics / health server ----
	srv := web.NewServer(cfg.Metrics.Port, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown")
	}
	cancel()
}
