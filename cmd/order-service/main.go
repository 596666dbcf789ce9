package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/audit"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/config"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment/gateway"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/transport"
)

const auditBuffer = 1024

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.App)
	log.Info().Str("env", cfg.App.Env).Msg("Order service starting...")

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	ctx := context.Background()
	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	sink, closeSink := newAuditSink(cfg.Kafka)
	recorder := audit.NewAsyncRecorder(sink, auditBuffer)

	txManager := db.NewTxManager(pg.Pool, cfg.Postgres.TxTimeout, cfg.Postgres.TxMaxRetries)
	products := inventory.NewPostgresStore(pg.Pool)
	ledger := inventory.NewLedger(products)
	orderRepo := order.NewRepository(pg.Pool)

	orderService := order.NewService(txManager, orderRepo, order.NewHistoryRepository(pg.SQLX), products, ledger, recorder)

	var paymentOpts []payment.Option
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, webhook dedup fast path disabled")
		} else {
			paymentOpts = append(paymentOpts, payment.WithEventGuard(payment.NewRedisEventGuard(rdb, cfg.Redis.EventTTL)))
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}
		cancel()
	}

	gateways := newGateways(cfg.Payments)
	paymentService := payment.NewService(
		txManager,
		payment.NewRepository(pg.Pool),
		orderRepo,
		order.NewLifecycle(orderRepo, ledger),
		gateways,
		recorder,
		cfg.Payments.Currency,
		paymentOpts...,
	)

	router := transport.NewRouter(transport.RouterDeps{
		Orders:    handler.NewOrderHandler(orderService),
		Payments:  handler.NewPaymentHandler(paymentService),
		JWTSecret: cfg.Auth.JWTSecret,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Int64("dropped", recorder.Dropped()).Msg("Audit recorder did not drain")
	}
	if err := closeSink(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit sink")
	}
	log.Info().Msg("Server stopped")
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "order-service").Logger()
}

func newAuditSink(cfg config.KafkaConfig) (audit.Sink, func() error) {
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("No Kafka brokers configured, audit entries go to the log")
		return audit.NewLogSink(log.Logger), func() error { return nil }
	}
	sink := audit.NewKafkaSink(cfg.Brokers, cfg.AuditTopic, cfg.BatchTimeout)
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.AuditTopic).Msg("Audit entries published to Kafka")
	return sink, sink.Close
}

func newGateways(cfg config.PaymentsConfig) []payment.Gateway {
	var gateways []payment.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateways = append(gateways, gateway.NewStripe(cfg.Stripe.BaseURL, cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil))
	}
	if cfg.Razorpay.SecretKey != "" {
		gateways = append(gateways, gateway.NewRazorpay(cfg.Razorpay.BaseURL, cfg.Razorpay.KeyID, cfg.Razorpay.SecretKey, cfg.Razorpay.WebhookSecret, nil))
	}
	if cfg.PayPal.SecretKey != "" {
		gateways = append(gateways, gateway.NewPayPal(cfg.PayPal.BaseURL, cfg.PayPal.KeyID, cfg.PayPal.SecretKey, cfg.PayPal.WebhookSecret, nil))
	}
	if cfg.CODEnabled {
		gateways = append(gateways, gateway.NewCashOnDelivery())
	}

	for _, gw := range gateways {
		log.Info().Stringer("provider", gw.Provider()).Msg("Payment provider enabled")
	}
	return gateways
}
