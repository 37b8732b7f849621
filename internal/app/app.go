// Package app wires repositories, services and infrastructure for the
// binaries according to the configured backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/discovery"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
	"github.com/hackgods/telehealth-scheduling/internal/lock"
	"github.com/hackgods/telehealth-scheduling/internal/notify"
	"github.com/hackgods/telehealth-scheduling/internal/profile"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

// App holds all dependencies for the application
type App struct {
	Config config.Config
	Log    *logrus.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Profiles     profile.Repository
	GeoIndex     geo.Index
	Notifier     notify.Notifier
	Schedules    *schedule.Service
	Appointments *appointment.Service
	Presence     *availability.Service
	Discovery    *discovery.Service
	Indexer      *discovery.Indexer

	closers []func() error
}

// New connects the configured backends and builds the services.
func New(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.build()
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.StoreBackend == "postgres" {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection error: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.Log.Info("connected to Postgres")
	}

	if cfg.NeedsRedis() {
		rdb, err := redisclient.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
		a.Log.Info("connected to Redis")
	}

	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("rabbitmq connection error: %w", err)
		}
		a.Notifier = pub
		a.closers = append(a.closers, pub.Close)
		a.Log.WithField("exchange", cfg.AMQPExchange).Info("publishing events to RabbitMQ")
	} else {
		a.Notifier = notify.LogNotifier{Log: a.Log}
	}
	return nil
}

func (a *App) build() {
	cfg, log := a.Config, a.Log

	var (
		scheduleRepo     schedule.Repository
		appointmentRepo  appointment.Repository
		availabilityRepo availability.Repository
	)
	if a.Pool != nil {
		scheduleRepo = schedule.NewPgRepository(a.Pool)
		appointmentRepo = appointment.NewPgRepository(a.Pool)
		availabilityRepo = availability.NewPgRepository(a.Pool)
		a.Profiles = profile.NewPgRepository(a.Pool)
	} else {
		scheduleRepo = schedule.NewMemoryRepository()
		appointmentRepo = appointment.NewMemoryRepository()
		availabilityRepo = availability.NewMemoryRepository()
		a.Profiles = profile.NewMemoryRepository()
	}

	var locker lock.Locker
	if cfg.LockBackend == "redis" {
		locker = redisclient.NewRedisLocker(a.Redis, cfg.LockTTL.Std())
	} else {
		locker = lock.NewLocal(cfg.LockTTL.Std())
	}

	if cfg.GeoBackend == "redis" {
		a.GeoIndex = redisclient.NewGeoIndex(a.Redis)
	} else {
		a.GeoIndex = geo.NewGridIndex(cfg.GeoCellMeters)
	}

	a.Schedules = schedule.NewService(scheduleRepo, appointmentRepo, locker, cfg, log)
	a.Appointments = appointment.NewService(appointmentRepo, a.Schedules, a.Notifier, cfg, log)
	a.Presence = availability.NewService(availabilityRepo, locker, a.Notifier, cfg, log)
	a.Indexer = discovery.NewIndexer(a.Profiles, a.Presence, a.GeoIndex, log)
	a.Presence.Subscribe(a.Indexer.PresenceChanged)
	a.Discovery = discovery.NewService(a.Profiles, a.Presence, a.GeoIndex, cfg, log)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
