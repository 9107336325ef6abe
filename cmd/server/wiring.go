package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	httpapi "partnerhub/internal/http"
	notificationconsumer "partnerhub/internal/notification/consumer"
	"partnerhub/internal/notification/channels/mail"
	"partnerhub/internal/notification/channels/socket"
	"partnerhub/internal/notification/channels/webhook"
	"partnerhub/internal/notification/dispatcher"
	notificationmetrics "partnerhub/internal/notification/metrics"
	"partnerhub/internal/orderevent/emitter"
	ordereventhandler "partnerhub/internal/orderevent/handler"
	"partnerhub/internal/orderevent/models"
	"partnerhub/internal/orderevent/outbox"
	"partnerhub/internal/platform/config"
	"partnerhub/internal/platform/kafka"
	kafkaconsumer "partnerhub/internal/platform/kafka/consumer"
	platformmail "partnerhub/internal/platform/mail"
	"partnerhub/internal/platform/metrics"
	"partnerhub/internal/platform/postgres"
	platformredis "partnerhub/internal/platform/redis"
	verificationhandler "partnerhub/internal/verification/handler"
	verificationmetrics "partnerhub/internal/verification/metrics"
	"partnerhub/internal/verification/ratelimit"
	"partnerhub/internal/verification/service"
	subjectstore "partnerhub/internal/verification/store/subject"
	"partnerhub/internal/verification/store/verificationtoken"
	"partnerhub/internal/verification/token"
	"partnerhub/pkg/platform/audit"
	"partnerhub/pkg/platform/audit/publisher"
	auditmemory "partnerhub/pkg/platform/audit/store/memory"
	auditpostgres "partnerhub/pkg/platform/audit/store/postgres"
	"partnerhub/pkg/platform/circuit"
)

// infra holds the optional backing services. Nil fields fall back to the
// in-memory implementations.
type infra struct {
	pool  *pgxpool.Pool
	redis *platformredis.Client
}

func connectInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	in.pool = pool
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := postgres.RunMigrations(cfg.Postgres.URL); err != nil {
			in.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations applied")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	in.redis = rc
	return in, nil
}

func (in *infra) Close() {
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.pool != nil {
		in.pool.Close()
	}
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

type app struct {
	router  http.Handler
	hub     *socket.Hub
	workers []worker
	closers []func()
}

// Close releases resources in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, in *infra, log *slog.Logger) (*app, error) {
	a := &app{}
	reg := metrics.NewRegistry()
	checks := map[string]httpapi.HealthCheck{}

	var tx *postgres.TxRunner
	if in.pool != nil {
		tx = postgres.NewTxRunner(in.pool, cfg.Postgres.TxTimeout)
		checks["postgres"] = in.pool.Ping
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}

	auditor := publisher.NewPublisher(auditStore(in), publisher.WithLogger(log))
	a.closers = append(a.closers, func() { _ = auditor.Close() })

	verification, err := buildVerification(cfg, in, tx, auditor, reg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	nm := notificationmetrics.New(reg)
	d := dispatcher.New(
		dispatcher.WithQueueSize(cfg.Dispatcher.QueueSize),
		dispatcher.WithWorkers(cfg.Dispatcher.Workers),
		dispatcher.WithRetry(cfg.Dispatcher.MaxAttempts, cfg.Dispatcher.InitialBackoff),
		dispatcher.WithHandlerTimeout(cfg.Dispatcher.HandlerTimeout),
		dispatcher.WithLogger(log),
		dispatcher.WithMetrics(nm),
		dispatcher.WithAuditPublisher(auditor),
	)
	a.workers = append(a.workers, worker{name: "dispatcher", run: d.Run})

	a.hub = socket.NewHub(socket.WithMetrics(nm), socket.WithLogger(log))
	if err := subscribeChannels(cfg, in, d, a, nm, log); err != nil {
		a.Close()
		return nil, err
	}

	var eventPublisher emitter.Publisher = d
	if cfg.Kafka.Enabled() {
		eventPublisher, err = buildKafkaPipeline(ctx, cfg, in, tx, d, a, checks, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	orderEmitter, err := emitter.New(eventPublisher, emitter.WithLogger(log), emitter.WithMetrics(emitter.NewMetrics(reg)))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.router = httpapi.NewRouter(httpapi.Config{
		Logger:        log,
		Registry:      reg,
		InternalToken: cfg.Server.InternalToken,
		Public:        []httpapi.Registrar{verification},
		Internal: []httpapi.InternalRegistrar{
			verification,
			ordereventhandler.New(orderEmitter, log),
		},
		Streams:      []httpapi.Registrar{socket.NewStreamHandler(a.hub, 0, log)},
		HealthChecks: checks,
	})
	return a, nil
}

func auditStore(in *infra) audit.Store {
	if in.pool != nil {
		return auditpostgres.New(in.pool)
	}
	return auditmemory.NewInMemoryStore()
}

func buildVerification(cfg config.Config, in *infra, tx *postgres.TxRunner, auditor *publisher.Publisher, reg prometheus.Registerer, log *slog.Logger) (*verificationhandler.Handler, error) {
	var (
		subjects service.SubjectDirectory
		tokens   token.Store
		limiter  service.ResendLimiter
	)
	if in.pool != nil {
		subjects = subjectstore.NewPostgres(in.pool)
		tokens = verificationtoken.NewPostgres(in.pool)
	} else {
		subjects = subjectstore.NewInMemory()
		tokens = verificationtoken.NewInMemory()
	}
	if in.redis != nil {
		limiter = ratelimit.NewRedis(in.redis.Client, cfg.Verification.ResendLimit, cfg.Verification.ResendWindow)
	} else {
		limiter = ratelimit.NewInMemory(cfg.Verification.ResendLimit, cfg.Verification.ResendWindow)
	}
	issuer, err := token.NewIssuer(tokens, cfg.Verification.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("build token issuer: %w", err)
	}
	opts := []service.Option{
		service.WithLogger(log),
		service.WithAuditPublisher(auditor),
		service.WithMetrics(verificationmetrics.New(reg)),
	}
	if tx != nil {
		opts = append(opts, service.WithTxRunner(tx))
	}
	svc, err := service.New(subjects, issuer, limiter, mailSender(cfg.Mail, log), cfg.Verification.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("build verification service: %w", err)
	}
	return verificationhandler.New(svc, log), nil
}

func mailSender(cfg config.MailConfig, log *slog.Logger) platformmail.Sender {
	if cfg.SMTPAddr != "" {
		return platformmail.NewSMTPSender(cfg)
	}
	return platformmail.NewLogSender(log)
}

func subscribeChannels(cfg config.Config, in *infra, d *dispatcher.Dispatcher, a *app, nm *notificationmetrics.Metrics, log *slog.Logger) error {
	d.Subscribe(models.StatusDelivered, mail.New(mailSender(cfg.Mail, log)))

	if in.redis != nil {
		bridge := socket.NewRedisBridge(in.redis.Client, cfg.Redis.SocketChannel, a.hub, log)
		a.workers = append(a.workers, worker{name: "socket bridge", run: bridge.Run})
		d.Subscribe(dispatcher.EventTypeAny, socket.NewChannel(bridge))
	} else {
		d.Subscribe(dispatcher.EventTypeAny, socket.NewChannel(socket.NewLocalBroker(a.hub)))
	}

	client := webhook.NewClient(cfg.Webhook.Timeout, cfg.Webhook.AllowPrivate)
	for _, endpoint := range cfg.Webhook.URLs {
		ch, err := webhook.New(endpoint, cfg.Webhook.Secret, client,
			webhook.WithMetrics(nm),
			webhook.WithLogger(log),
			webhook.WithBreaker(circuit.New(endpoint,
				circuit.WithFailureThreshold(cfg.Webhook.BreakerThreshold),
				circuit.WithCooldown(cfg.Webhook.BreakerCooldown),
			)),
		)
		if err != nil {
			return fmt.Errorf("configure webhook: %w", err)
		}
		d.Subscribe(dispatcher.EventTypeAny, ch)
	}
	return nil
}

// buildKafkaPipeline routes emitted events through the outbox: the relay
// produces them to Kafka and the consumer feeds them to the dispatcher.
func buildKafkaPipeline(ctx context.Context, cfg config.Config, in *infra, tx *postgres.TxRunner, d *dispatcher.Dispatcher, a *app, checks map[string]httpapi.HealthCheck, log *slog.Logger) (emitter.Publisher, error) {
	kc := cfg.Kafka
	if err := kafka.EnsureTopic(ctx, kc.Brokers, kc.Topic, kc.Partitions, kc.ReplicationFactor); err != nil {
		return nil, err
	}

	var store outbox.Store = outbox.NewInMemory()
	if in.pool != nil {
		store = outbox.NewPostgres(in.pool)
	}

	producer, err := kafka.NewProducer(kc.Brokers, kc.Topic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, producer.Close)
	checks["kafka"] = producer.Ping

	relayOpts := []outbox.RelayOption{
		outbox.WithInterval(kc.RelayInterval),
		outbox.WithBatchSize(kc.RelayBatchSize),
		outbox.WithLogger(log),
	}
	if tx != nil {
		relayOpts = append(relayOpts, outbox.WithTxRunner(tx))
	}
	relay, err := outbox.NewRelay(store, producer, relayOpts...)
	if err != nil {
		return nil, err
	}
	a.workers = append(a.workers, worker{name: "outbox relay", run: relay.Run})

	var deduper notificationconsumer.Deduper = notificationconsumer.NewMemoryDeduper(kc.DedupeTTL)
	if in.redis != nil {
		deduper = notificationconsumer.NewRedisDeduper(in.redis.Client, kc.DedupeTTL)
	}
	router := notificationconsumer.NewRouter(log, nil)
	router.Register(kc.Topic, notificationconsumer.NewOrderEventHandler(d, deduper, log))

	consumer, err := kafkaconsumer.New(kc.Brokers, kc.ConsumerGroup, []string{kc.Topic}, router, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, consumer.Close)
	a.workers = append(a.workers, worker{name: "order event consumer", run: consumer.Run})

	return outbox.NewPublisher(store), nil
}
