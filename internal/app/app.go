// Package app wires the donation engine from configuration: store, guards,
// audit sink, metrics, and the HTTP router.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"caredrop/internal/donation/allocation"
	"caredrop/internal/donation/campaigns"
	"caredrop/internal/donation/eligibility"
	"caredrop/internal/donation/guard"
	"caredrop/internal/donation/handler"
	"caredrop/internal/donation/lifecycle"
	donationmetrics "caredrop/internal/donation/metrics"
	"caredrop/internal/donation/redemption"
	"caredrop/internal/donation/store"
	"caredrop/internal/enrollment"
	jwttoken "caredrop/internal/jwt_token"
	"caredrop/internal/platform/config"
	"caredrop/internal/platform/kafka"
	"caredrop/internal/platform/metrics"
	"caredrop/internal/platform/postgres"
	"caredrop/internal/platform/redis"
	audit "caredrop/pkg/platform/audit"
	"caredrop/pkg/platform/audit/publisher"
	auditkafka "caredrop/pkg/platform/audit/store/kafka"
	auditmemory "caredrop/pkg/platform/audit/store/memory"
	auditpostgres "caredrop/pkg/platform/audit/store/postgres"
)

// App holds the wired process and the resources Close releases.
type App struct {
	Router    http.Handler
	Lifecycle *lifecycle.Manager
	// Store is the campaign-cached donation store the services share.
	Store   store.Store
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build wires every component named by cfg. Empty DatabaseURL, Redis URL, and
// Kafka brokers select the in-process implementations.
func Build(ctx context.Context, cfg config.Server, log *slog.Logger) (*App, error) {
	a := &App{}
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return fail(err)
		}
	}

	backend, err := buildStore(ctx, cfg, db, log)
	if err != nil {
		return fail(err)
	}
	donationStore, err := store.WithCampaignCache(backend, cfg.Donation.CampaignCacheSize)
	if err != nil {
		return fail(err)
	}
	a.Store = donationStore

	locker, limiter, err := buildGuards(ctx, cfg, a, log)
	if err != nil {
		return fail(err)
	}

	auditSink, err := buildAuditSink(ctx, cfg, db, a, log)
	if err != nil {
		return fail(err)
	}
	auditPublisher := publisher.NewPublisher(auditSink,
		publisher.WithAsyncBuffer(cfg.Donation.AuditBuffer),
		publisher.WithLogger(log),
	)
	a.closers = append(a.closers, auditPublisher.Close)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	donationMetrics := donationmetrics.New(registry)
	httpMetrics := metrics.New(registry)

	resolver := eligibility.New(donationStore,
		eligibility.WithLogger(log),
		eligibility.WithMetrics(donationMetrics),
	)
	engine := allocation.New(donationStore, resolver,
		allocation.WithLogger(log),
		allocation.WithMetrics(donationMetrics),
		allocation.WithAuditPublisher(auditPublisher),
		allocation.WithLocker(locker),
		allocation.WithLockTTL(cfg.Donation.AllocationLockTTL),
	)
	a.Lifecycle = lifecycle.New(donationStore,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(donationMetrics),
		lifecycle.WithAuditPublisher(auditPublisher),
	)
	validator := redemption.New(donationStore,
		redemption.WithLogger(log),
		redemption.WithMetrics(donationMetrics),
		redemption.WithAuditPublisher(auditPublisher),
		redemption.WithAttemptLimiter(limiter),
	)
	campaignService := campaigns.New(donationStore, engine,
		campaigns.WithLogger(log),
		campaigns.WithAuditPublisher(auditPublisher),
	)
	enrollmentService := enrollment.New(donationStore,
		enrollment.WithLogger(log),
		enrollment.WithAuditPublisher(auditPublisher),
		enrollment.WithHook(engine),
	)

	jwtValidator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer))
	donationHandler := handler.New(handler.Services{
		Allocation: engine,
		Lifecycle:  a.Lifecycle,
		Redemption: validator,
		Campaigns:  campaignService,
		Enrollment: enrollmentService,
	}, log, httpMetrics, jwtValidator)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	donationHandler.Register(r)
	a.Router = r

	return a, nil
}

func buildStore(ctx context.Context, cfg config.Server, db *sql.DB, log *slog.Logger) (store.Store, error) {
	if db == nil {
		log.Info("using in-memory donation store", "seed_demo", cfg.SeedDemo)
		if cfg.SeedDemo {
			return store.NewSeededInMemory(), nil
		}
		return store.NewInMemory(), nil
	}
	pg := store.NewPostgres(db)
	if cfg.SeedDemo {
		if err := store.SeedDemo(ctx, pg); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	log.Info("using postgres donation store")
	return pg, nil
}

func buildGuards(ctx context.Context, cfg config.Server, a *App, log *slog.Logger) (guard.Locker, guard.AttemptLimiter, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.Info("using in-process allocation locks and redeem limiter")
		return guard.NewInMemoryLocker(),
			guard.NewInMemoryAttemptLimiter(cfg.Donation.RedeemMaxFailures, cfg.Donation.RedeemFailureWindow),
			nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	log.Info("using redis allocation locks and redeem limiter")
	return guard.NewRedisLocker(client.Client),
		guard.NewRedisAttemptLimiter(client.Client, cfg.Donation.RedeemMaxFailures, cfg.Donation.RedeemFailureWindow),
		nil
}

// buildAuditSink prefers Kafka, then the audit table, then process memory.
func buildAuditSink(ctx context.Context, cfg config.Server, db *sql.DB, a *App, log *slog.Logger) (audit.Store, error) {
	client, err := kafka.NewClient(ctx, cfg.Kafka, kgo.ClientID("caredrop"))
	if err != nil {
		return nil, err
	}
	if client != nil {
		a.closers = append(a.closers, client.Close)
		if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.AuditTopic, cfg.Kafka.Partitions, -1); err != nil {
			return nil, err
		}
		log.Info("publishing audit events to kafka", "topic", cfg.Kafka.AuditTopic)
		return auditkafka.NewSink(client, cfg.Kafka.AuditTopic), nil
	}
	if db != nil {
		log.Info("writing audit events to postgres")
		return auditpostgres.New(db), nil
	}
	log.Warn("audit events kept in memory only")
	return auditmemory.NewInMemoryStore(), nil
}
