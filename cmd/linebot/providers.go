package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/losehrt/fhirlinebot-sub000/internal/adapter/cache"
	"github.com/losehrt/fhirlinebot-sub000/internal/adapter/line"
	"github.com/losehrt/fhirlinebot-sub000/internal/config"
	"github.com/losehrt/fhirlinebot-sub000/internal/credential"
	httptransport "github.com/losehrt/fhirlinebot-sub000/internal/http"
	"github.com/losehrt/fhirlinebot-sub000/internal/http/handler"
	"github.com/losehrt/fhirlinebot-sub000/internal/jwt"
	apimiddleware "github.com/losehrt/fhirlinebot-sub000/internal/middleware"
	"github.com/losehrt/fhirlinebot-sub000/internal/org"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
	"github.com/losehrt/fhirlinebot-sub000/internal/server"
	authservice "github.com/losehrt/fhirlinebot-sub000/internal/service/auth"
	"github.com/losehrt/fhirlinebot-sub000/internal/session"
	"github.com/losehrt/fhirlinebot-sub000/internal/task"
	"github.com/losehrt/fhirlinebot-sub000/internal/telemetry"
	"github.com/losehrt/fhirlinebot-sub000/internal/webhook"
	"github.com/losehrt/fhirlinebot-sub000/internal/webhook/response"
)

var coreModule = fx.Provide(
	newConfig,
	newLogger,
	newTelemetry,
	newSnowflake,
	newPGXPool,
)

var serveModule = fx.Provide(
	newRedisClient,
	newOrgRepository,
	newUserRepository,
	newIdentityLinkRepository,
	newMembershipRepository,
	newCredentialRepository,
	newContactRepository,
	newCredentialEvents,
	newCredentialStore,
	newSessionStore,
	newSessionManager,
	newLineClient,
	newLoginService,
	newResponseStrategy,
	newTaskApplier,
	newTaskQueue,
	webhook.NewHandlers,
	newDispatcher,
	newGateway,
	newAuthHandler,
	newWebhookHandler,
	newCredentialHandler,
	newRouterHandlers,
	newRateLimiter,
	org.NewResolver,
	httptransport.NewRouter,
	server.NewHTTPServer,
)

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

// newRedisClient returns nil when REDIS_ADDR is empty; sessions then live in
// process memory and credential changes are not broadcast.
func newRedisClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("redis disabled; using in-memory sessions for a single replica")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newOrgRepository(pool *pgxpool.Pool) repository.OrgRepository {
	return repository.NewPostgresOrgRepo(pool)
}

func newUserRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool, node)
}

func newIdentityLinkRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.IdentityLinkRepository {
	return repository.NewPostgresIdentityLinkRepo(pool, node)
}

func newMembershipRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.MembershipRepository {
	return repository.NewPostgresMembershipRepo(pool, node)
}

func newCredentialRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.CredentialRepository {
	return repository.NewPostgresCredentialRepo(pool, node)
}

func newContactRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.ContactRepository {
	return repository.NewPostgresContactRepo(pool, node)
}

func newCredentialEvents(client redis.UniversalClient, cfg config.Config, logger *zap.Logger) *cacheadapter.CredentialEvents {
	if client == nil {
		return nil
	}
	return cacheadapter.NewCredentialEvents(client, cfg.CredentialEventsChannel, logger)
}

func newCredentialStore(repo repository.CredentialRepository, events *cacheadapter.CredentialEvents, logger *zap.Logger) *credential.Store {
	if events == nil {
		return credential.NewStore(repo, nil, logger)
	}
	return credential.NewStore(repo, events, logger)
}

// listenCredentialEvents drops the local cache whenever another replica
// changes a credential row.
func listenCredentialEvents(lc fx.Lifecycle, events *cacheadapter.CredentialEvents, store *credential.Store, logger *zap.Logger) {
	if events == nil {
		return
	}
	startBackground(lc, func(ctx context.Context) {
		if err := events.Listen(ctx, store.Invalidate); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("credential events listener stopped", zap.Error(err))
		}
	})
}

func newSessionStore(client redis.UniversalClient) repository.SessionStore {
	if client == nil {
		return session.NewMemoryStore()
	}
	return cacheadapter.NewRedisSessionStore(client)
}

func newSessionManager(cfg config.Config, store repository.SessionStore) *session.Manager {
	return session.NewManager(store, cfg.SessionCookieName, cfg.SessionTTL, cfg.SessionSecure)
}

func newLineClient(cfg config.Config) *line.HTTPClient {
	return line.NewHTTPClient(&http.Client{Timeout: cfg.LineHTTPTimeout}, cfg.LineAuthBaseURL, cfg.LineAPIBaseURL)
}

func newLoginService(
	cfg config.Config,
	store *credential.Store,
	client *line.HTTPClient,
	users repository.UserRepository,
	links repository.IdentityLinkRepository,
	memberships repository.MembershipRepository,
	logger *zap.Logger,
) authservice.LoginService {
	return authservice.NewLoginService(store, client, jwt.NewVerifier(jwt.LineIssuer), users, links, memberships, cfg, logger)
}

func newResponseStrategy(cfg config.Config) (response.Strategy, error) {
	return response.New(cfg.ResponseMode)
}

func newTaskApplier(contacts repository.ContactRepository, logger *zap.Logger) task.Handler {
	return task.NewApplier(contacts, logger)
}

func retryPolicy(cfg config.Config, logger *zap.Logger) task.RetryPolicy {
	return task.RetryPolicy{
		MaxAttempts: cfg.TaskMaxAttempts,
		Delay:       cfg.TaskRetryDelay,
		Notify: func(err error, next time.Duration) {
			logger.Warn("task attempt failed; retrying", zap.Duration("next", next), zap.Error(err))
		},
	}
}

// newTaskQueue publishes to Kafka when brokers are configured and otherwise
// applies tasks in-process.
func newTaskQueue(lc fx.Lifecycle, cfg config.Config, applier task.Handler, logger *zap.Logger) (task.Queue, error) {
	if len(cfg.KafkaBrokers) > 0 {
		queue, err := task.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return queue.Close()
			},
		})
		return queue, nil
	}

	queue := task.NewLocalQueue(applier, retryPolicy(cfg, logger), cfg.TaskWorkers, cfg.TaskBuffer, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			queue.Start(ctx)
			return nil
		},
		OnStop: queue.Stop,
	})
	return queue, nil
}

func newDispatcher(handlers *webhook.Handlers, logger *zap.Logger) *webhook.Dispatcher {
	return webhook.NewDispatcher(handlers.Table(), logger)
}

func newGateway(store *credential.Store, client *line.HTTPClient, dispatcher *webhook.Dispatcher, logger *zap.Logger) *webhook.Gateway {
	return webhook.NewGateway(store, client, dispatcher, logger)
}

func newAuthHandler(login authservice.LoginService, sessions *session.Manager, logger *zap.Logger) *handler.AuthHandler {
	return handler.NewAuthHandler(login, sessions, logger)
}

func newWebhookHandler(cfg config.Config, gateway *webhook.Gateway, logger *zap.Logger) *handler.WebhookHandler {
	return handler.NewWebhookHandler(gateway, cfg.MaxWebhookBytes, logger)
}

func newCredentialHandler(store *credential.Store, logger *zap.Logger) *handler.CredentialHandler {
	return handler.NewCredentialHandler(store, logger)
}

func newRouterHandlers(auth *handler.AuthHandler, hook *handler.WebhookHandler, creds *handler.CredentialHandler) httptransport.Handlers {
	return httptransport.Handlers{Auth: auth, Webhook: hook, Credentials: creds}
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newConsumer(lc fx.Lifecycle, cfg config.Config, applier task.Handler, logger *zap.Logger) (*task.Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("worker requires KAFKA_BROKERS")
	}
	consumer := task.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, applier, retryPolicy(cfg, logger), logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return consumer.Close()
		},
	})
	return consumer, nil
}

func startConsumer(lc fx.Lifecycle, shutdowner fx.Shutdowner, consumer *task.Consumer, logger *zap.Logger) {
	startBackground(lc, func(ctx context.Context) {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("task consumer stopped", zap.Error(err))
			_ = shutdowner.Shutdown(fx.ExitCode(1))
		}
	})
}

func startHTTPServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	startBackground(lc, func(ctx context.Context) {
		if err := srv.Run(ctx, addr); err != nil {
			logger.Error("http server stopped", zap.Error(err))
			_ = shutdowner.Shutdown(fx.ExitCode(1))
		}
	})
}

// startBackground runs fn until the app stops, then waits for it to return.
func startBackground(lc fx.Lifecycle, fn func(ctx context.Context)) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				defer close(done)
				fn(runCtx)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
