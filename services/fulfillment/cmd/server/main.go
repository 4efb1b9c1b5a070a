package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/masukomi/licensezero.com/pkg/db"
	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/pkg/webhooks"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/api"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/config"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/events"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/mailer"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/payment"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/store"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/workflow"
)

func main() {
	configPath := flag.String("config", "configs/fulfillment.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("fulfillment service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()
	records := store.NewRecords(store.New(backend), cfg.OrderTTL, time.Now)

	var gateway payment.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		logger.Warn("DEV_MODE: using the in-process fake gateway")
		gateway = payment.NewFakeGateway()
	}

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn("DEV_MODE: e-mail is kept in memory")
		mail = mailer.NewMemory()
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		publisher = kp
	}
	defer publisher.Close()

	if cfg.AgentKey.PrivateKey == "" {
		logger.Warn("PUBLIC_KEY/PRIVATE_KEY not set; relicense orders will fail")
	}
	engine, err := workflow.New(workflow.Dependencies{
		Records:         records,
		Payments:        payment.NewCoordinator(gateway, logger),
		Mailer:          mail,
		Locks:           lock.NewManager(),
		Events:          publisher,
		Logger:          logger,
		AgentKey:        cfg.AgentKey,
		PurchaseBaseURL: cfg.BaseURL,
		BcryptCost:      cfg.BcryptCost,
	})
	if err != nil {
		return err
	}

	var verifier *webhooks.StripeVerifier
	if cfg.StripeWebhookSecret != "" {
		verifier = webhooks.NewStripeVerifier(cfg.StripeWebhookSecret, webhooks.DefaultStripeTolerance)
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           api.New(engine, verifier, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", srv.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}
	// Let in-flight payments finish; a workflow cut short leaves holds uncaptured.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		backend := store.NewPostgresBackend(pool)
		if err := backend.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return backend, pool.Close, nil
	case config.DriverRedis:
		client, err := store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return store.NewRedisBackend(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil
	case config.DriverMemory:
		return store.NewMemoryBackend(), func() {}, nil
	default:
		return store.NewFileBackend(cfg.DataDir), func() {}, nil
	}
}
