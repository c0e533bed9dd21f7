// Package app opens the connections and repositories shared by cmd/server
// and cmd/worker.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"duotime/contracts/jobs"
	"duotime/internal/config"
	"duotime/internal/encryption"
	"duotime/internal/httpserver"
	"duotime/internal/repository"
	"duotime/internal/store"
	"duotime/pkg/db"
	"duotime/pkg/pubsub"
	"duotime/pkg/queue"
	redisclient "duotime/pkg/redis"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Pool  *pgxpool.Pool
	SQL   *sql.DB
	Redis *redis.Client
	Bus   pubsub.Bus
	Store store.Store

	Notifications *queue.Queue
	Reminders     *queue.Queue

	Users            *repository.UserRepository
	ReminderRepo     *repository.ReminderRepository
	LoveNoteRepo     *repository.LoveNoteRepository
	NotificationRepo *repository.NotificationRepository
}

// Open connects Postgres, Redis and the bus. Every failure is returned so the
// caller can exit before serving anything.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Deps, error) {
	codec, err := encryption.NewCodec(cfg.Encryption.Secret, cfg.Encryption.PreviousSecrets...)
	if err != nil {
		return nil, fmt.Errorf("encryption codec: %w", err)
	}

	pool, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := db.RunMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	rdb, err := redisclient.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	bus, err := pubsub.New(cfg.PubSub, rdb, cfg.MQ.URL, logger)
	if err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, fmt.Errorf("pubsub: %w", err)
	}

	st := store.NewEncrypted(store.NewPostgres(pool), codec, nil)
	opts := queue.Options{
		Prefix:   cfg.Queue.Prefix,
		Attempts: cfg.Queue.Attempts,
		Backoff:  time.Duration(cfg.Queue.BackoffMs) * time.Millisecond,
		Lease:    cfg.Queue.Lease(),
	}

	return &Deps{
		Pool:             pool,
		SQL:              stdlib.OpenDBFromPool(pool),
		Redis:            rdb,
		Bus:              bus,
		Store:            st,
		Notifications:    queue.New(rdb, jobs.QueueNotifications, opts, logger),
		Reminders:        queue.New(rdb, jobs.QueueReminders, opts, logger),
		Users:            repository.NewUserRepository(st),
		ReminderRepo:     repository.NewReminderRepository(st),
		LoveNoteRepo:     repository.NewLoveNoteRepository(st),
		NotificationRepo: repository.NewNotificationRepository(st),
	}, nil
}

// Checks are the readiness probes behind /readyz.
func (d *Deps) Checks() map[string]httpserver.ReadinessCheck {
	return map[string]httpserver.ReadinessCheck{
		"db":    d.Pool.Ping,
		"redis": func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() },
	}
}

// Close releases everything Open acquired, bus first.
func (d *Deps) Close() error {
	err := errors.Join(d.Bus.Close(), d.SQL.Close(), d.Redis.Close())
	d.Pool.Close()
	return err
}
