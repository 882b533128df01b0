package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"checkline/internal/accounts"
	"checkline/internal/audit"
	"checkline/internal/catalog"
	"checkline/internal/checklist"
	"checkline/internal/compliance/models"
	"checkline/internal/dispatch"
	"checkline/internal/docstore"
	"checkline/internal/docstore/memory"
	pgstore "checkline/internal/docstore/postgres"
	redisstore "checkline/internal/docstore/redis"
	"checkline/internal/fanout"
	"checkline/internal/identity"
	"checkline/internal/identity/adminapi"
	"checkline/internal/identity/local"
	"checkline/internal/inbox"
	"checkline/internal/platform/config"
	"checkline/internal/platform/httpserver"
	"checkline/internal/platform/kafka"
	"checkline/internal/platform/logger"
	"checkline/internal/platform/metrics"
	"checkline/internal/platform/postgres"
	"checkline/internal/platform/redis"
	"checkline/internal/ratelimit"
	"checkline/internal/session"
	httptransport "checkline/internal/transport/http"
	"checkline/pkg/platform/circuit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("checkline stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the process and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New()

	backend, lockStore, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	cat := catalog.New(backend,
		catalog.WithLogger(log),
		catalog.WithCacheMetrics(m.Cache),
		catalog.WithGatewayMetrics(m.Gateway),
	)

	directory, err := cat.OpenDirectory(ctx)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer directory.Close()

	readyCtx, cancelReady := context.WithTimeout(ctx, cfg.Server.ReadyTimeout)
	err = directory.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		return fmt.Errorf("directory snapshots: %w", err)
	}

	auditor := audit.NewPublisher(cat.AuditLog,
		audit.WithAsyncBuffer(cfg.Audit.Buffer),
		audit.WithLogger(log),
		audit.WithMetrics(m.Audit),
	)
	defer auditor.Close()

	dispatcher, closeDispatch, err := newDispatcher(ctx, cfg.Kafka, log, m)
	if err != nil {
		return err
	}
	defer closeDispatch()

	engine := fanout.New(directory, cat.Notifications,
		fanout.WithDispatcher(dispatcher),
		fanout.WithConcurrency(cfg.Fanout.Concurrency),
		fanout.WithLogger(log),
		fanout.WithMetrics(m.Fanout),
	)

	provider := local.New(
		local.NewSigner(cfg.Identity.SigningKey, cfg.Identity.Issuer, cfg.Identity.TokenTTL),
		local.WithCredentials(local.NewDocumentCredentials(backend)),
		local.WithBcryptCost(cfg.Identity.BcryptCost),
		local.WithLogger(log),
	)
	var (
		identities    identity.Accounts     = provider
		authenticator session.Authenticator = provider
		verifier      session.TokenVerifier = provider
	)
	if cfg.Accounts.BaseURL != "" {
		remote := adminapi.NewClient(cfg.Accounts.BaseURL, cfg.Accounts.Token,
			adminapi.WithHTTPClient(&http.Client{Timeout: cfg.Accounts.Timeout}),
			adminapi.WithLogger(log),
		)
		identities, authenticator, verifier = remote, remote, remote
	}

	resolver := session.NewResolver(cat.Profiles(log),
		session.WithProvisioning(cfg.Provisioning.Enabled, models.Role(cfg.Provisioning.DefaultRole)),
		session.WithAuditor(auditor),
		session.WithResolverLogger(log),
		session.WithResolverMetrics(m.Session),
	)
	gate := session.NewGate(authenticator, verifier, resolver,
		session.WithGateLogger(log),
		session.WithGateMetrics(m.Session),
	)

	admin := accounts.NewService(cat.Users, cat.Units, cat.Templates, identities,
		accounts.WithAuditor(auditor),
		accounts.WithLogger(log),
	)
	defer admin.Wait()

	checklists := checklist.NewService(cat.Checklists, directory, engine,
		checklist.WithAuditor(auditor),
		checklist.WithLogger(log),
	)

	opts := []httptransport.Option{httptransport.WithMetricsHandler(metrics.Handler())}
	if cfg.SignIn.LockoutEnabled {
		lockout, err := ratelimit.New(lockStore,
			ratelimit.WithConfig(ratelimit.Config{
				Attempts:     cfg.SignIn.MaxFailures,
				Window:       cfg.SignIn.Window,
				LockDuration: cfg.SignIn.LockDuration,
			}),
			ratelimit.WithLogger(log),
			ratelimit.WithMetrics(m.SignIn),
		)
		if err != nil {
			return err
		}
		opts = append(opts, httptransport.WithSignInLimiter(lockout))
	}
	if cfg.Accounts.BaseURL == "" && cfg.Accounts.Token != "" {
		accountsAPI := adminapi.NewHandler(provider, cfg.Accounts.Token, log)
		opts = append(opts, httptransport.WithMount(func(r chi.Router) {
			r.Route("/internal", accountsAPI.Register)
		}))
	}
	handler := httptransport.NewHandler(gate, checklists, inbox.NewService(cat.Notifications, log), admin, cat, log, opts...)
	srv := httpserver.New(cfg.Server, httptransport.NewRouter(handler))

	errCh := make(chan error, 1)
	go func() {
		log.Info("checkline listening", "addr", cfg.Server.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// openBackend also picks the sign-in lockout store; only redis shares locks
// between replicas.
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (docstore.Backend, ratelimit.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return redisstore.New(client, redisstore.WithLogger(log)), ratelimit.NewRedisStore(client), func() {
			if err := client.Close(); err != nil {
				log.Warn("redis close failed", "error", err)
			}
		}, nil

	case config.BackendPostgres:
		pool, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		store := pgstore.New(pool, cfg.Postgres.DSN,
			pgstore.WithLogger(log),
			pgstore.WithReconnectInterval(cfg.Postgres.ReconnectInterval, 10*cfg.Postgres.ReconnectInterval),
		)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, ratelimit.NewMemoryStore(), func() {
			if err := store.Close(); err != nil {
				log.Warn("postgres listener close failed", "error", err)
			}
			pool.Close()
		}, nil

	default:
		log.Warn("using in-memory document store; data is lost on restart")
		return memory.New(), ratelimit.NewMemoryStore(), func() {}, nil
	}
}

func newDispatcher(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger, m *metrics.Metrics) (fanout.Dispatcher, func(), error) {
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, nil, err
	}
	if producer == nil {
		return dispatch.NewLog(log), func() {}, nil
	}

	topicCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := kafka.EnsureTopics(topicCtx, producer, cfg.Partitions, cfg.Replication, cfg.Topic); err != nil {
		producer.Close()
		return nil, nil, fmt.Errorf("kafka topics: %w", err)
	}

	k := dispatch.NewKafka(producer, cfg.Topic,
		dispatch.WithBreaker(circuit.New("notification-dispatch", circuit.WithFailureThreshold(5))),
		dispatch.WithLogger(log),
		dispatch.WithMetrics(m.Dispatch),
	)
	return k, producer.Close, nil
}
