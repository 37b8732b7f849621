package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/app"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/obs"
)

// appointment-worker expires pending appointments past their TTL and completes
// confirmed ones whose slot has ended. With the Redis geo index it also
// rebuilds that index periodically.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}

	log := obs.NewLogger(cfg, "appointment-worker")
	log.WithField("interval", cfg.WorkerInterval.Std().String()).Info("appointment-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(rootCtx, cfg, "appointment-worker")
	if err != nil {
		log.WithError(err).Error("tracer init error")
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup error")
		os.Exit(1)
	}
	defer a.Close()

	rebuildGeo := cfg.SharedGeoIndex()
	if !rebuildGeo {
		log.WithField("geo_backend", cfg.GeoBackend).Info("geo index is in-process, skipping rebuilds")
	}

	// Run once at startup
	runOnce(rootCtx, a, log)
	lastRebuild := time.Now()

	ticker := time.NewTicker(cfg.WorkerInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping appointment worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a, log)
			if rebuildGeo && time.Since(lastRebuild) >= cfg.GeoRebuildEvery.Std() {
				rebuild(rootCtx, a, log)
				lastRebuild = time.Now()
			}
		}
	}
}

func runOnce(ctx context.Context, a *app.App, log *logrus.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	res, err := a.Appointments.SweepExpired(runCtx)
	if err != nil {
		log.WithError(err).Error("sweep run error")
		return
	}
	log.WithFields(logrus.Fields{
		"expired":     res.Expired,
		"completed":   res.Completed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("sweep run complete")
}

func rebuild(ctx context.Context, a *app.App, log *logrus.Logger) {
	n, err := a.Indexer.Rebuild(ctx)
	if err != nil {
		log.WithError(err).Warn("geo index rebuild failed")
		return
	}
	log.WithField("doctors", n).Info("geo index rebuilt")
}
