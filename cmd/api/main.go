package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursemail/internal/api"
	"coursemail/internal/config"
	"coursemail/internal/dispatch"
	"coursemail/internal/httpserver"
	"coursemail/internal/mailer"
	"coursemail/internal/mqhandler"
	"coursemail/internal/quota"
	"coursemail/internal/repository"
	"coursemail/internal/service"
	"coursemail/pkg/db"
	"coursemail/pkg/logger"
	"coursemail/pkg/mq"
	"coursemail/pkg/outbox"
	redisclient "coursemail/pkg/redis"
	"coursemail/pkg/util"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting email api...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("port", cfg.Server.Port),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repository.Migrate(migrateCtx, dbConn); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}
	migrateCancel()

	// Redis is optional: without it statistics are not cached and enqueue is not idempotent.
	var rdb *redis.Client
	if client, err := redisclient.NewRedisClient(cfg.Redis, log); err != nil {
		log.Warn("Redis unavailable, running without cache", zap.Error(err))
		client.Close()
	} else {
		rdb = client
		defer rdb.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories
	jobRepo := repository.NewJobRepository(dbConn)

	// Dispatch trigger. Without MQ jobs wait for the sweep.
	var trigger service.Trigger
	relayDone := make(chan struct{})
	switch cfg.Dispatcher.Trigger {
	case config.TriggerNone:
		close(relayDone)
	case config.TriggerOutbox:
		// Outbox rows are written even while MQ is down and published once it is back.
		outboxRepo := outbox.NewRepository(dbConn)
		jobRepo.WithOutbox(outboxRepo)
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Warn("MQ unavailable, outbox events stay pending", zap.Error(err))
			close(relayDone)
			break
		}
		defer publisher.Close()
		relay := outbox.NewRelay(outboxRepo, publisher, log)
		go func() {
			defer close(relayDone)
			relay.Start(ctx)
		}()
	default:
		close(relayDone)
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Warn("MQ unavailable, dispatch relies on the sweep", zap.Error(err))
			break
		}
		defer publisher.Close()
		trigger = mqhandler.NewMQTrigger(publisher)
	}
	log.Info("Dispatch trigger configured", zap.String("trigger", cfg.Dispatcher.Trigger))
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	statsRepo := repository.NewStatsRepository(dbConn)

	// Services
	ledger := quota.NewLedger(ledgerRepo, cfg.QuotaLimits(), log)
	sender, err := mailer.NewSender(cfg.SMTP, cfg.Breaker.FailureThreshold, time.Duration(cfg.Breaker.TimeoutSeconds)*time.Second, log)
	if err != nil {
		log.Fatal("Failed to init mail sender", zap.Error(err))
	}
	dispatcher := dispatch.NewDispatcher(jobRepo, ledger, sender, log).
		WithPolicy(cfg.RetryPolicy()).
		WithBatchSize(cfg.Dispatcher.BatchSize).
		WithStaleAfter(cfg.StaleAfter())

	renderer, err := mailer.NewRenderer(cfg.SMTP.FromName)
	if err != nil {
		log.Fatal("Failed to load email templates", zap.Error(err))
	}
	emailService := service.NewEmailService(jobRepo, trigger, renderer, log)
	if rdb != nil {
		emailService.WithDeduper(util.NewDeduper(rdb, "enqueue", 24*time.Hour, log))
	}
	statsService := service.NewStatisticsService(statsRepo, rdb, cfg.QuotaLimits(), cfg.StatsCacheTTL(), log).
		WithSizes(cfg.Stats.TopUsers, cfg.Stats.RecentEmails)

	readiness := map[string]httpserver.ReadinessCheck{
		"postgres": dbConn.Ping,
	}
	if rdb != nil {
		readiness["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	router := httpserver.NewRouter(httpserver.Handlers{
		EmailJobs: api.NewEmailJobHandler(emailService, log),
		Dispatch:  api.NewDispatchHandler(dispatcher, log),
		Stats:     api.NewStatsHandler(statsService, log),
	}, httpserver.Options{
		JWTSecret:     cfg.JWT.Secret,
		DispatchToken: cfg.Dispatcher.Token,
		Readiness:     readiness,
		Logger:        log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down email api gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	cancel()
	select {
	case <-relayDone:
	case <-shutdownCtx.Done():
	}
	log.Info("Email api stopped")
}
