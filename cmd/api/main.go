package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bharath3010/curalink-backend/internal/api/router"
	"github.com/bharath3010/curalink-backend/internal/app/bootstrap"
	"github.com/bharath3010/curalink-backend/internal/availability"
	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/cancellation"
	appconfig "github.com/bharath3010/curalink-backend/internal/config"
	"github.com/bharath3010/curalink-backend/internal/events"
	"github.com/bharath3010/curalink-backend/internal/notify"
	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
	"github.com/bharath3010/curalink-backend/internal/payments"
	"github.com/bharath3010/curalink-backend/internal/schedule"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting curalink API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	metricsHandler, bookingMetrics := setupMetrics()

	loc, err := fallbackLocation(cfg.DefaultTimezone)
	if err != nil {
		return err
	}
	scheduleStore := schedule.NewPostgresStore(pool, loc)
	ledger := bookings.NewPostgresLedger(pool,
		bookings.WithIsolation(cfg.BookingIsolation),
		bookings.WithRetries(cfg.BookingTxRetries),
		bookings.WithRetryHook(bookingMetrics.ObserveRetry),
	)

	bookingService := bookings.NewService(ledger, bookingConfig(cfg), logger).
		WithSchedule(scheduleStore).
		WithMetrics(bookingMetrics)
	if redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		defer redisClient.Close()
		bookingService.WithVelocity(bookings.NewVelocityChecker(redisClient, bookings.VelocityConfig{
			MaxAttemptsPerPatient: cfg.BookingMaxPerPatient,
			Window:                cfg.BookingVelocityWindow,
		}, logger))
	}

	availabilityService := availability.NewService(scheduleStore, ledger, availability.Config{
		GranularityMinutes:     cfg.SlotGranularityMinutes,
		DefaultDurationMinutes: cfg.BookingDefaultDuration,
		MaxDurationMinutes:     cfg.BookingMaxDuration,
		MinLeadTime:            cfg.BookingMinLeadTime,
	}, logger).WithMetrics(bookingMetrics)

	paymentRepo := payments.NewRepository(pool)
	machine := payments.NewStateMachine(pool, logger).WithMetrics(bookingMetrics)

	// Keep the interfaces nil when PayPal is absent; a typed nil would look configured.
	var (
		provider payments.Provider
		verifier payments.WebhookVerifier
	)
	if paypal := bootstrap.BuildPayPalClient(cfg, logger); paypal != nil {
		provider = paypal
		verifier = paypal
	}
	orderService := payments.NewOrderService(ledger, paymentRepo, provider, machine, payments.OrderConfig{
		Currency:       cfg.PaymentCurrency,
		PlatformFeeBPS: cfg.PlatformFeeBPS,
	}, logger)

	var webhookHandler *payments.WebhookHandler
	if verifier != nil {
		webhookHandler = payments.NewWebhookHandler(verifier, events.NewProcessedStore(pool), machine, logger)
	}

	cancelService := cancellation.NewService(ledger, paymentRepo, provider, machine, logger).
		WithMetrics(bookingMetrics)

	deliverer, err := setupDeliverer(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	go deliverer.Start(ctx)

	sweeper := bookings.NewSweeper(ledger, cfg.PendingAppointmentTTL, logger).WithMetrics(bookingMetrics)
	scheduler := bookings.NewCron(logger)
	if _, err := sweeper.Schedule(scheduler, cfg.SweeperSchedule); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", cfg.SweeperSchedule, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	handler := router.New(&router.Config{
		Logger:             logger,
		Availability:       availability.NewHandler(availabilityService, logger),
		Bookings:           bookings.NewHandler(bookingService, logger),
		Cancellation:       cancellation.NewHandler(cancelService, logger),
		Payments:           payments.NewHandler(orderService, logger),
		PayPalWebhook:      webhookHandler,
		DB:                 pool,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		JWTSecret:          cfg.AuthJWTSecret,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// setupMetrics builds a private registry so tests can construct it repeatedly.
func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bm := metrics.NewBookingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), bm
}

func bookingConfig(cfg *appconfig.Config) bookings.Config {
	out := bookings.DefaultConfig()
	if cfg.BookingDefaultDuration > 0 {
		out.DefaultDurationMinutes = cfg.BookingDefaultDuration
	}
	if cfg.BookingMinDuration > 0 {
		out.MinDurationMinutes = cfg.BookingMinDuration
	}
	if cfg.BookingMaxDuration > 0 {
		out.MaxDurationMinutes = cfg.BookingMaxDuration
	}
	out.MinLeadTime = cfg.BookingMinLeadTime
	return out
}

func fallbackLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *appconfig.Config) bool {
	return cfg.EventsQueueURL != "" || cfg.EmailProvider == "ses"
}

// setupDeliverer drains the outbox into email notifications and, when a queue
// is configured, SQS.
func setupDeliverer(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (*events.Deliverer, error) {
	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := bootstrap.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &loaded
	}

	notifier := notify.NewService(
		bootstrap.BuildEmailSender(cfg, awsCfg, logger),
		notify.NewPostgresContacts(pool),
		logger,
	)
	// Receipts keep a redelivered entry from re-sending email after SQS failed.
	handlers := events.NewFanOut(events.NewProcessedStore(pool), logger)
	if cfg.EventsQueueURL != "" && awsCfg != nil {
		handlers.Add("sqs", events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.EventsQueueURL))
		logger.Info("publishing domain events to SQS", "queue_url", cfg.EventsQueueURL)
	}
	handlers.Add("email", notifier)
	return events.NewDeliverer(events.NewOutboxStore(pool), handlers, logger), nil
}
