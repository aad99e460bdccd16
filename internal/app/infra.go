package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	auditrepo "account-relay/internal/audit/repository"
	"account-relay/internal/config"
	"account-relay/internal/db"
	"account-relay/internal/db/migrate"
	"account-relay/internal/db/sqlitedb"
	"account-relay/internal/session/repository"
	"account-relay/internal/session/seal"
	"account-relay/internal/telemetry"
	relayotel "account-relay/internal/telemetry/otel"
	"account-relay/internal/telemetry/producer"
)

// Infra holds the stores and telemetry sinks the relay runs on.
type Infra struct {
	Sessions repository.Repository
	// Audit is nil when the store backend cannot hold audit rows.
	Audit     auditrepo.Repository
	Ping      func(ctx context.Context) error
	Providers *relayotel.Providers
	Emitter   telemetry.EventEmitter

	closers []func() error
}

// Close releases everything OpenInfra opened, newest first.
func (i *Infra) Close() error {
	var errs []error
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](); err != nil {
			errs = append(errs, err)
		}
	}
	i.closers = nil
	return errors.Join(errs...)
}

func (i *Infra) onClose(f func() error) {
	i.closers = append(i.closers, f)
}

// OpenInfra opens the configured session store, audit store and telemetry sinks.
// On error everything already opened is closed.
func OpenInfra(ctx context.Context, cfg *config.Config, logger *slog.Logger) (infra *Infra, err error) {
	infra = &Infra{}
	defer func() {
		if err != nil {
			_ = infra.Close()
		}
	}()

	providers, err := relayotel.NewProviders(ctx, relayotel.ConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	infra.Providers = providers

	emitters := telemetry.Multi{relayotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		infra.onClose(kafkaProducer.Close)
		logger.Info("telemetry: emitting to kafka", "topic", kafkaProducer.Topic())
	}
	infra.Emitter = emitters

	var durable repository.Repository
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		durable, err = openSQLite(cfg, logger, infra)
	case config.StorePostgres:
		durable, err = openPostgres(ctx, cfg, logger, infra)
	case config.StoreRedis:
		durable, err = openRedis(ctx, cfg, logger, infra)
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, err
	}

	sessions := durable
	if cfg.SessionSealKey != "" {
		sealer, err := seal.New(cfg.SessionSealKey)
		if err != nil {
			return nil, fmt.Errorf("session seal: %w", err)
		}
		sessions = repository.NewSealedRepository(sessions, sealer)
		logger.Info("session store: sealing protocol secrets at rest")
	} else if cfg.IsProduction() {
		logger.Warn("session store: SESSION_SEAL_KEY unset, protocol secrets stored in plaintext")
	}
	if ttl := cfg.SessionCacheTTLDuration(); ttl > 0 {
		sessions = repository.NewCachedRepository(sessions, ttl)
	}
	infra.Sessions = sessions
	return infra, nil
}

func openSQLite(cfg *config.Config, logger *slog.Logger, infra *Infra) (repository.Repository, error) {
	pool, err := sqlitedb.Open(sqlitedb.Config{
		Path:   cfg.SQLitePath,
		Logger: logger,
		Schema: repository.SQLiteSchema + auditrepo.SQLiteSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	infra.onClose(pool.Close)
	infra.Audit = auditrepo.NewSQLiteRepository(pool)
	infra.Ping = pool.Ping
	logger.Info("session store: sqlite", "path", cfg.SQLitePath)
	return repository.NewSQLiteRepository(pool), nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger, infra *Infra) (repository.Repository, error) {
	if cfg.AutoMigrate {
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrations applied")
	}
	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	infra.onClose(sqlDB.Close)
	infra.Audit = auditrepo.NewPostgresRepository(sqlDB)
	infra.Ping = sqlDB.PingContext
	logger.Info("session store: postgres")
	return repository.NewPostgresRepository(sqlDB), nil
}

func openRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger, infra *Infra) (repository.Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	infra.onClose(client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	repo := repository.NewRedisRepository(client, cfg.RedisKeyPrefix)
	infra.Ping = repo.Ping

	// Redis holds sessions only; audit rows go to Postgres when one is configured.
	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxOpenConns: 5})
		if err != nil {
			return nil, fmt.Errorf("postgres (audit): %w", err)
		}
		infra.onClose(sqlDB.Close)
		infra.Audit = auditrepo.NewPostgresRepository(sqlDB)
	}
	logger.Info("session store: redis", "addr", cfg.RedisAddr, "audit", infra.Audit != nil)
	return repo, nil
}
