package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cronfire/internal/auth"
	"cronfire/internal/broker"
	"cronfire/internal/executor"
	"cronfire/internal/hub"
	"cronfire/internal/lock"
	"cronfire/internal/manager"
	"cronfire/internal/models"
	"cronfire/internal/models/config"
	"cronfire/internal/scheduler"
	"cronfire/internal/store"
	"cronfire/internal/store/postgres"
	storeredis "cronfire/internal/store/redis"
	"cronfire/internal/web"
)

func main() {
	configPath := flag.String("config", "cronfire.yaml", "path to the settings file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("scheduler exited")
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	jobStore, redisClient, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	notificationHub := hub.New(logger)

	registry, messageBroker, err := buildRegistry(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	if messageBroker != nil {
		defer messageBroker.Close()
	}

	sched := scheduler.New(jobStore, registry, notificationHub, logger, schedulerConfig(cfg))

	var managers []*manager.JobManager
	for _, kind := range models.AllKinds {
		managers = append(managers, manager.New(kind, jobStore, sched, cfg.IgnoreCrons, logger))
	}

	authorizer := auth.FromConfig(cfg.UseToken, cfg.TokenHeader, cfg.Tokens)
	server := web.NewServer(cfg.ListenAddr, managers, notificationHub, authorizer, logger)

	go notificationHub.Run(ctx)
	go func() {
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("scheduler loop stopped")
		}
	}()

	return server.Serve(ctx)
}

// openStore connects the configured backend. A Redis client is also
// returned when one exists so the key-value executor can share it.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.JobStore, *goredis.Client, error) {
	switch cfg.StorageDriver {
	case config.Postgres:
		db, err := sql.Open("postgres", cfg.PostgresConfig.ConnectionString)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db, lock.NewPostgresDistributedLockManager(db), logger); err != nil {
			return nil, nil, err
		}
		return postgres.NewJobStore(db), optionalRedisClient(ctx, cfg, logger), nil

	case config.Redis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, err
		}
		return storeredis.NewJobStore(client, cfg.ClaimTTL), client, nil

	default:
		// Config validation rejects this earlier; kept as a guard.
		logger.WithField("storage", cfg.StorageDriver.String()).Fatal("unsupported storage type")
		return nil, nil, nil
	}
}

// optionalRedisClient connects Redis for the key-value executor when the
// store itself is relational. Missing or unreachable Redis is tolerated;
// only key-value jobs are affected.
func optionalRedisClient(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *goredis.Client {
	if cfg.RedisConfig.Address == "" {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis ping failed, key-value jobs will fail")
	}
	return client
}

// buildRegistry wires an executor per kind the configuration supports.
// Kinds without backing infrastructure stay unregistered; triggers for
// them fail without retry.
func buildRegistry(cfg *config.Config, redisClient *goredis.Client, logger *logrus.Logger) (*executor.Registry, broker.MessageBroker, error) {
	var outboundToken string
	if cfg.UseToken && len(cfg.Tokens) > 0 {
		outboundToken = cfg.Tokens[0]
	}

	executors := []executor.Executor{
		executor.NewCallbackExecutor(timeoutFor(cfg, models.KindCallback), cfg.TokenHeader, outboundToken),
	}

	if redisClient != nil {
		executors = append(executors, executor.NewKeyValueCommandExecutor(executor.NewRedisCommandRunner(redisClient)))
	} else {
		logger.Warn("no redis connection, key-value jobs will fail")
	}

	var messageBroker broker.MessageBroker
	if cfg.RabbitMQConfig.URL != "" {
		mb, err := broker.NewRabbitMQ(cfg.RabbitMQConfig.URL, cfg.RabbitMQConfig.Exchange)
		if err != nil {
			return nil, nil, err
		}
		messageBroker = mb
		executors = append(executors, executor.NewMessagePublishExecutor(mb))
	} else {
		logger.Warn("no rabbitmq URL, publish jobs will fail")
	}

	return executor.NewRegistry(executors...), messageBroker, nil
}

func timeoutFor(cfg *config.Config, kind models.JobKind) time.Duration {
	if d, ok := cfg.Timeouts[kind.String()]; ok && d > 0 {
		return d
	}
	return cfg.DefaultTimeout
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	timeouts := make(map[models.JobKind]time.Duration, len(cfg.Timeouts))
	for name, d := range cfg.Timeouts {
		if kind, err := models.ParseJobKind(name); err == nil {
			timeouts[kind] = d
		}
	}
	return scheduler.Config{
		Instance:        cfg.Instance,
		PollInterval:    cfg.PollInterval,
		WorkerCount:     int64(cfg.WorkerCount),
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.MaxRetries,
		Timeouts:        timeouts,
		DefaultTimeout:  cfg.DefaultTimeout,
		RetryBackoff:    cfg.RetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		ClaimTTL:        cfg.ClaimTTL,
	}
}
