package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sapliy/nightly-giving/internal/config"
	"github.com/sapliy/nightly-giving/internal/ledger"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/ledger/infrastructure"
	"github.com/sapliy/nightly-giving/internal/notification"
	"github.com/sapliy/nightly-giving/internal/policy"
	"github.com/sapliy/nightly-giving/internal/scheduler"
	"github.com/sapliy/nightly-giving/internal/tracker"
	"github.com/sapliy/nightly-giving/internal/tracker/simulate"
	"github.com/sapliy/nightly-giving/pkg/database"
	"github.com/sapliy/nightly-giving/pkg/messaging"
	"github.com/sapliy/nightly-giving/pkg/observability"
	"github.com/sapliy/nightly-giving/pkg/secrets"
)

const serviceVersion = "0.1.0"

// App owns every long-lived component of the server.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	server    *Server
	ledger    *ledger.Ledger
	tracker   *tracker.Tracker
	scheduler *scheduler.Scheduler
	hub       *Hub
	rabbit    *messaging.RabbitMQClient
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	shutdown, err := observability.InitTracer(ctx, observability.Config{
		ServiceName:    "giving",
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.OTel.Endpoint,
		Environment:    os.Getenv("ENVIRONMENT"),
		Logger:         logger,
	})
	if err != nil {
		logger.Warn("failed to init tracer", "error", err)
	} else {
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(sctx)
		})
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	store, err := a.buildStore(ctx, rdb)
	if err != nil {
		return nil, err
	}

	relay, err := buildRelay(cfg, logger)
	if err != nil {
		return nil, err
	}
	authToken, err := relayAuthToken(ctx, cfg)
	if err != nil {
		return nil, err
	}
	notifier := notification.NewNotifier(relay, notification.Config{
		ServiceID:              cfg.Relay.ServiceID,
		ConfirmationTemplateID: cfg.Relay.ConfirmationTemplateID,
		ReminderTemplateID:     cfg.Relay.ReminderTemplateID,
		AuthToken:              authToken,
		Timeout:                cfg.Relay.Timeout,
	}, notification.WithLogger(logger.With("component", "notifier")))

	calendar, err := scheduler.NewCalendar(cfg.Campaign.StartDate, cfg.Campaign.Timezone, cfg.Scheduler.DemoInterval)
	if err != nil {
		return nil, err
	}
	var sent scheduler.SentStore = scheduler.NewMemorySentStore()
	if rdb != nil {
		sent = scheduler.NewRedisSentStore(rdb)
	}
	a.scheduler = scheduler.New(notifier, calendar,
		scheduler.WithSentStore(sent),
		scheduler.WithLogger(logger.With("component", "scheduler")),
	)

	engine, err := buildPolicyEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []ledger.Option{
		ledger.WithStore(store),
		ledger.WithScheduler(a.scheduler),
		ledger.WithPolicy(engine),
		ledger.WithLocation(calendar.Location),
		ledger.WithLogger(logger.With("component", "ledger")),
		ledger.WithMetrics(&infrastructure.PrometheusMetrics{}),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewKafkaProducer(cfg.Kafka.Brokers, infrastructure.LedgerEventsTopic)
		a.closers = append(a.closers, producer.Close)
		opts = append(opts, ledger.WithPublisher(infrastructure.NewKafkaEventPublisher(producer)))
	}

	// The hub reads current aggregates from the ledger it observes.
	var l *ledger.Ledger
	a.hub = NewHub(func() domain.Aggregates { return l.GetAggregates() }, logger.With("component", "hub"))
	l = ledger.New(append(opts, ledger.WithObserver(a.hub.Publish))...)
	a.ledger = l

	if err := l.Load(ctx); err != nil {
		logger.Error("failed to load ledger, starting empty", "error", err)
	}
	armed := a.scheduler.Rebuild(ctx, l.RecurringPledges())
	logger.Info("reminder schedule rebuilt", "armed", armed)

	a.tracker = tracker.New(l,
		tracker.WithPendingTTL(cfg.Tracker.PendingTTL),
		tracker.WithLogger(logger.With("component", "tracker")),
	)

	a.server = &Server{
		ledger:        l,
		tracker:       a.tracker,
		simulator:     simulate.New(a.tracker, simulate.WithLogger(logger.With("component", "simulator"))),
		scheduler:     a.scheduler,
		notifier:      notifier,
		policy:        engine,
		hub:           a.hub,
		webhookSecret: cfg.Webhook.Secret,
		jwtSecret:     cfg.Admin.JWTSecret,
		logger:        logger.With("component", "http"),
	}

	if cfg.RabbitMQ.URL != "" {
		rcfg := messaging.DefaultConfig()
		rcfg.URL = cfg.RabbitMQ.URL
		client, err := messaging.NewRabbitMQClient(rcfg)
		if err != nil {
			logger.Warn("rabbitmq unavailable, inbound confirmations disabled",
				"url", messaging.MaskURL(cfg.RabbitMQ.URL), "error", err)
		} else {
			a.rabbit = client
			a.server.consumerHealthy = client.IsHealthy
			a.closers = append(a.closers, func() error { client.Close(); return nil })
			if _, err := client.DeclareQueueWithDLQ(cfg.RabbitMQ.Queue); err != nil {
				return nil, fmt.Errorf("declare %s: %w", cfg.RabbitMQ.Queue, err)
			}
		}
	}

	ok = true
	return a, nil
}

func (a *App) buildStore(ctx context.Context, rdb *redis.Client) (domain.Store, error) {
	switch a.cfg.Storage.Driver {
	case "postgres":
		db, err := database.Connect(a.cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := database.Migrate(db, infrastructure.Migrations, infrastructure.MigrationsDir); err != nil {
			return nil, err
		}
		primary := infrastructure.NewPostgresStore(db)
		if rdb == nil {
			return primary, nil
		}
		return infrastructure.NewFallbackStore(primary, infrastructure.NewRedisStore(rdb), a.logger.With("component", "store")), nil
	default:
		return infrastructure.NewMemoryStore(), nil
	}
}

func buildRelay(cfg *config.Config, logger *slog.Logger) (notification.Relay, error) {
	switch cfg.Relay.Kind {
	case "emailjs":
		return notification.NewEmailJSRelay(), nil
	case "resend":
		return notification.NewResendRelay(cfg.Resend.APIKey, cfg.Resend.FromEmail, cfg.Resend.RedirectTo), nil
	case "log":
		return notification.NewLogRelay(logger.With("component", "relay")), nil
	default:
		return nil, fmt.Errorf("unknown relay kind %q", cfg.Relay.Kind)
	}
}

// relayAuthToken prefers the Secrets Manager entry when one is configured.
func relayAuthToken(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Relay.AuthTokenSecretID == "" {
		return cfg.Relay.AuthToken, nil
	}
	client, err := secrets.NewClient(ctx, cfg.AWS.Region)
	if err != nil {
		return "", err
	}
	return secrets.Fetch(ctx, client, cfg.Relay.AuthTokenSecretID)
}

func buildPolicyEngine(ctx context.Context, cfg *config.Config) (policy.PolicyEngine, error) {
	if cfg.Policy.Engine != "rego" {
		return policy.NewHardcodedPolicyEngine(), nil
	}
	var module string
	if cfg.Policy.Module != "" {
		data, err := os.ReadFile(cfg.Policy.Module)
		if err != nil {
			return nil, fmt.Errorf("read policy module: %w", err)
		}
		module = string(data)
	}
	return policy.NewRegoPolicyEngine(ctx, module)
}

// Run serves HTTP and runs the background loops until ctx is done.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx)
	go a.tracker.RunExpiry(ctx, a.cfg.Tracker.ExpiryInterval)
	if a.rabbit != nil {
		go func() {
			if err := a.rabbit.ConsumeWithContext(ctx, a.cfg.RabbitMQ.Queue, a.handleConfirmation); err != nil {
				a.logger.Error("confirmation consumer stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("giving service HTTP starting", "addr", a.cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// handleConfirmation consumes a webhook payload delivered over AMQP. The
// queue is internal, so no signature is checked.
func (a *App) handleConfirmation(ctx context.Context, body []byte) error {
	hook, err := tracker.ParseWebhook(body)
	if err != nil {
		return err
	}
	rec, err := a.tracker.ConfirmClick(ctx, hook)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "confirmation consumed", "tracking_id", hook.TrackingID, "record_id", rec.ID)
	return nil
}

func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error during shutdown", "error", err)
		}
	}
	a.closers = nil
}
