package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	contractmq "coursemail/contracts/mq"
	"coursemail/internal/config"
	"coursemail/internal/dispatch"
	"coursemail/internal/mailer"
	"coursemail/internal/mqhandler"
	"coursemail/internal/quota"
	"coursemail/internal/repository"
	pkgconfig "coursemail/pkg/config"
	"coursemail/pkg/db"
	"coursemail/pkg/logger"
	"coursemail/pkg/mq"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const dispatchQueue = "email.job.enqueued.dispatch.q"

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting email worker...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.Bool("sweep_enabled", cfg.Dispatcher.SweepEnabled),
	)

	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	jobRepo := repository.NewJobRepository(dbConn)
	ledger := quota.NewLedger(repository.NewLedgerRepository(dbConn), cfg.QuotaLimits(), log)
	sender, err := mailer.NewSender(cfg.SMTP, cfg.Breaker.FailureThreshold, time.Duration(cfg.Breaker.TimeoutSeconds)*time.Second, log)
	if err != nil {
		log.Fatal("Failed to init mail sender", zap.Error(err))
	}

	dispatcher := dispatch.NewDispatcher(jobRepo, ledger, sender, log).
		WithPolicy(cfg.RetryPolicy()).
		WithBatchSize(cfg.Dispatcher.BatchSize).
		WithInterval(cfg.SweepInterval()).
		WithStaleAfter(cfg.StaleAfter())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepDone := make(chan struct{})
	if cfg.Dispatcher.SweepEnabled {
		go func() {
			defer close(sweepDone)
			dispatcher.Start(ctx)
		}()
	} else {
		close(sweepDone)
	}

	// MQ consumer for email.job.enqueued
	consumer, err := mq.NewConsumer(cfg.MQ.URL, dispatchQueue, contractmq.RoutingKeyEmailJobEnqueued, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()

	handler := mqhandler.NewEmailJobDispatchHandler(dispatcher, log)
	consumer.SetHandler(handler.Handle)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Info("Starting email.job.enqueued consumer...")
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Fatal("Dispatch consumer failed", zap.Error(err))
		}
	}()

	// HTTP server for health checks and metrics
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + pkgconfig.GetEnv("WORKER_HTTP_PORT", "8081"),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("Email worker is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down email worker gracefully...")
	consumer.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	for _, done := range []chan struct{}{sweepDone, consumerDone} {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Warn("Timed out waiting for in-flight dispatch")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("Email worker stopped")
}
