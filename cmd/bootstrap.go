package cmd

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/jobqueue"
	"github.com/vibast-solutions/ms-go-collections/app/progress"
	"github.com/vibast-solutions/ms-go-collections/app/provider"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/config"
)

type application struct {
	cfg         *config.Config
	linkService *service.PaymentLinkService
	jobs        *service.JobOrchestrator
	queue       *jobqueue.Queue
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustOpenDatabase(cfg *config.Config) *sql.DB {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	return db
}

func mustCreateApplication() (*application, func()) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}

	clientRepo := repository.NewClientRepository(db)
	linkRepo := repository.NewPaymentLinkRepository(db)
	recordRepo := repository.NewPaymentRecordRepository(db)
	smsLogRepo := repository.NewSmsLogRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	ledger := repository.NewLedgerRepository(db)

	gateway := provider.NewStripeGateway(provider.StripeConfig{
		SecretKey:                 cfg.Stripe.SecretKey,
		WebhookSecret:             cfg.Stripe.WebhookSecret,
		Currency:                  cfg.Stripe.Currency,
		SignatureToleranceSeconds: cfg.Stripe.SignatureToleranceSeconds,
		HTTPTimeout:               cfg.Stripe.HTTPTimeout,
	})
	notifier := provider.NewTwilioNotifier(provider.TwilioConfig{
		AccountSID:  cfg.Twilio.AccountSID,
		AuthToken:   cfg.Twilio.AuthToken,
		FromNumber:  cfg.Twilio.FromNumber,
		OverrideTo:  cfg.Twilio.OverrideTo,
		HTTPTimeout: cfg.Twilio.HTTPTimeout,
	})

	reconciler := service.NewReconciliationEngine(ledger, recordRepo, linkRepo)
	linkService := service.NewPaymentLinkService(
		clientRepo,
		linkRepo,
		smsLogRepo,
		webhookEventRepo,
		gateway,
		notifier,
		reconciler,
		cfg.Collections,
	)

	queue := jobqueue.NewQueue(redisClient, jobqueue.Options{
		KeyPrefix:   cfg.Redis.KeyPrefix,
		Workers:     cfg.Jobs.Workers,
		StuckMaxAge: cfg.Jobs.StuckJobMaxAge,
		Logger:      factory.NewModuleLogger("job-queue"),
	})
	progressStore := progress.NewRedisStore(redisClient, cfg.Redis.KeyPrefix, cfg.Collections.ProgressTTL)
	locker := progress.NewRedisLocker(redisClient, cfg.Redis.KeyPrefix)

	jobs := service.NewJobOrchestrator(
		linkService,
		clientRepo,
		linkRepo,
		queue,
		progressStore,
		locker,
		cfg.Collections,
		cfg.Jobs,
	)
	jobs.RegisterHandlers(queue)

	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis")
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return &application{
		cfg:         cfg,
		linkService: linkService,
		jobs:        jobs,
		queue:       queue,
	}, cleanup
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
