package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/obs"
)

func main() {
	down := pflag.Bool("down", false, "roll back every migration")
	steps := pflag.Int("steps", 0, "migrate n steps (negative rolls back)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}
	log := obs.NewLogger(cfg, "migrate")

	mg, err := db.NewMigrator(cfg.MigrateURL(), log)
	if err != nil {
		log.WithError(err).Fatal("migrator init error")
	}

	switch {
	case *down:
		err = mg.Down()
	case *steps != 0:
		err = mg.Steps(*steps)
	default:
		err = mg.Up()
	}
	if cerr := mg.Close(); cerr != nil {
		log.WithError(cerr).Warn("error closing migrator")
	}
	if err != nil {
		log.WithError(err).Error("migration failed")
		os.Exit(1)
	}
}
