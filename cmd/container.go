package cmd

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/envelope"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lock"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/notification"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/scheduler"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

type container struct {
	cfg            *config.Config
	paymentService *service.PaymentService
	scheduler      *scheduler.Scheduler
	dispatcher     *notification.Dispatcher
}

func mustCreateContainer() (*container, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	if err := repository.EnsureSchema(context.Background(), db, cfg.Database.Driver); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to prepare database schema")
	}

	closers := []func(){func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}}

	paymentRepo := repository.NewPaymentRepository(db)
	webhookLogRepo := repository.NewWebhookLogRepository(db)
	probeJobRepo := repository.NewProbeJobRepository(db)
	shopRepo := repository.NewShopRepository(db)
	linkRepo := repository.NewPaymentLinkRepository(db)

	var locker lock.Locker = lock.NewKeyed()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logrus.WithError(err).Fatal("Failed to connect to redis")
		}
		locker = lock.NewRedis(redisClient, cfg.Redis.LockTTL)
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	var alerter notification.Alerter
	if cfg.Telegram.BotToken != "" {
		telegramAlerter, err := notification.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize telegram alerter")
		}
		alerter = telegramAlerter
	}

	var publisher notification.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := notification.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize kafka publisher")
		}
		publisher = kafkaPublisher
		closers = append(closers, func() {
			if err := kafkaPublisher.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close kafka publisher")
			}
		})
	}

	dispatcher := notification.NewDispatcher(
		notification.Config{WebhookTimeout: cfg.Payments.WebhookTimeout},
		webhookLogRepo,
		shopRepo,
		linkRepo,
		alerter,
		publisher,
	)

	// The scheduler and the service refer to each other: probes run through
	// the service, and the service cancels probes on terminal transitions.
	var paymentService *service.PaymentService
	probeScheduler := scheduler.New(
		scheduler.Config{
			Interval:     cfg.Payments.ProbeInterval,
			Window:       cfg.Payments.ProbeWindow,
			ProbeTimeout: cfg.Payments.ProbeTimeout,
		},
		probeJobRepo,
		func(ctx context.Context, job entity.ProbeJob) (bool, error) {
			return paymentService.ProbePayment(ctx, job)
		},
	)

	paymentService = service.NewPaymentService(
		paymentRepo,
		webhookLogRepo,
		probeJobRepo,
		provider.NewRegistry(mustCreateProviders(cfg, probeScheduler)...),
		locker,
		dispatcher,
		probeScheduler,
		alerter,
		cfg.Payments,
	)

	cleanup := func() {
		probeScheduler.Stop()
		dispatcher.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	return &container{
		cfg:            cfg,
		paymentService: paymentService,
		scheduler:      probeScheduler,
		dispatcher:     dispatcher,
	}, cleanup
}

func mustCreateProviders(cfg *config.Config, armer provider.ProbeArmer) []provider.Provider {
	providers := []provider.Provider{
		provider.NewStripeProvider(provider.StripeConfig{
			BaseURL:                   cfg.Stripe.BaseURL,
			SecretKey:                 cfg.Stripe.SecretKey,
			WebhookSecret:             cfg.Stripe.WebhookSecret,
			ReturnBaseURL:             cfg.Stripe.ReturnBaseURL,
			SignatureToleranceSeconds: cfg.Stripe.SignatureToleranceSeconds,
			HTTPTimeout:               cfg.Stripe.HTTPTimeout,
		}),
		provider.NewCryptoPayProvider(provider.CryptoPayConfig{
			BaseURL:         cfg.CryptoPay.BaseURL,
			APIToken:        cfg.CryptoPay.APIToken,
			AcceptedAssets:  cfg.CryptoPay.AcceptedAssets,
			ExpiresInSecond: int64(cfg.CryptoPay.InvoiceTTL.Seconds()),
			HTTPTimeout:     cfg.CryptoPay.HTTPTimeout,
		}),
		provider.NewBankTransferProvider(provider.BankTransferConfig{
			BaseURL:       cfg.BankTransfer.BaseURL,
			APIKey:        cfg.BankTransfer.APIKey,
			WebhookSecret: cfg.BankTransfer.WebhookSecret,
			HTTPTimeout:   cfg.BankTransfer.HTTPTimeout,
		}),
	}

	if cfg.CardGate.Enabled() {
		env, err := envelope.LoadFromFiles(cfg.CardGate.PrivateKeyPath, cfg.CardGate.PublicKeyPath)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to load cardgate key material")
		}
		providers = append(providers, provider.NewCardGateProvider(provider.CardGateConfig{
			BaseURL:         cfg.CardGate.BaseURL,
			MerchantPointID: cfg.CardGate.MerchantPointID,
			Lang:            cfg.CardGate.Lang,
			HTTPTimeout:     cfg.CardGate.HTTPTimeout,
		}, env, armer))
	}

	if cfg.Sandbox.Enabled {
		providers = append(providers, provider.NewSandboxProvider(provider.SandboxConfig{
			SuccessCard:   cfg.Sandbox.SuccessCard,
			WebhookSecret: cfg.Sandbox.WebhookSecret,
		}))
	}

	return providers
}
