package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/telehealth-scheduling/internal/api"
	"github.com/hackgods/telehealth-scheduling/internal/app"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}

	log := obs.NewLogger(cfg, "api-server")
	log.WithFields(logrus.Fields{
		"http_port":     cfg.HTTPPort,
		"store_backend": cfg.StoreBackend,
		"geo_backend":   cfg.GeoBackend,
		"lock_backend":  cfg.LockBackend,
	}).Info("api-server starting up")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("api-server stopped with error")
		os.Exit(1)
	}
	log.Info("api-server stopped")
}

func run(cfg config.Config, log *logrus.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(rootCtx, cfg, "api-server")
	if err != nil {
		return err
	}

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("error closing connections")
		}
	}()

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Schedules:    a.Schedules,
			Appointments: a.Appointments,
			Presence:     a.Presence,
			Discovery:    a.Discovery,
			Verifier:     identity.NewVerifier(cfg.JWTSecret),
			Log:          log,
			PgPool:       a.Pool,
			Redis:        a.Redis,
			Env:          cfg.Env,
			Version:      cfg.Version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// The grid index lives in process memory and starts empty; the Redis
	// index drifts when profiles change underneath it. Both are rebuilt.
	g.Go(func() error {
		rebuildIndex(ctx, a, log)
		ticker := time.NewTicker(cfg.GeoRebuildEvery.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				rebuildIndex(ctx, a, log)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if terr := shutdownTracer(shutdownCtx); terr != nil {
			log.WithError(terr).Warn("tracer shutdown error")
		}
		return err
	})

	return g.Wait()
}

func rebuildIndex(ctx context.Context, a *app.App, log *logrus.Logger) {
	start := time.Now()
	n, err := a.Indexer.Rebuild(ctx)
	if err != nil {
		log.WithError(err).Warn("geo index rebuild failed")
		return
	}
	log.WithFields(logrus.Fields{
		"doctors":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("geo index rebuilt")
}
